package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/pkgsend/internal/bridge"
	"github.com/desertthunder/pkgsend/internal/events"
	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/repositories"
	"github.com/desertthunder/pkgsend/internal/server"
	"github.com/desertthunder/pkgsend/internal/services"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

const updateBufferSize = 256

// service is everything `pkgsend serve` runs: the package server the device downloads from,
// the operator bridge, the orchestrator loops and the update fan-out.
type service struct {
	config *shared.Config
	logger *log.Logger

	device       *services.DeviceClient
	registry     *tasks.Registry
	orchestrator *tasks.Orchestrator
	locator      *server.Locator
	packages     *server.Server
	bridge       *server.Server
	hub          *bridge.Hub
	history      *repositories.HistoryRepository

	updates chan tasks.Update
	sinks   []events.Sink
	closers []func() error
}

// newService wires every component and starts both listeners.
// History and MQTT are optional; failing to open them is logged and serving continues.
func newService(cfg *shared.Config, device *services.DeviceClient, logger *log.Logger) (*service, error) {
	s := &service{
		config:  cfg,
		logger:  logger,
		device:  device,
		updates: make(chan tasks.Update, updateBufferSize),
	}
	s.registry = tasks.NewRegistry(s.updates)

	advertise := cfg.Server.AdvertiseHost
	if advertise == "" {
		advertise = s.detectHost(device.Host())
	}
	s.locator = server.NewLocator(advertise, cfg.Server.Port)

	s.orchestrator = tasks.NewOrchestrator(tasks.Options{
		Registry:        s.registry,
		Device:          device,
		Locator:         s.locator,
		Logger:          logger,
		RefreshInterval: cfg.Tasks.RefreshInterval(),
		SweepInterval:   cfg.Tasks.SweepInterval(),
	})

	packages := server.NewPackageHandler(server.PackageOptions{
		Registry:   s.registry,
		UserAgent:  cfg.Device.UserAgent,
		DeviceHost: device.Host,
		Grace:      cfg.Tasks.GracePeriod(),
		Logger:     logger,
	})
	alive := server.NewAliveHandler(s.orchestrator.DeviceConfigured)
	s.packages = server.NewServer(cfg.Server.Host, server.NewPackageRouter(packages, alive, logger), logger)
	if err := s.packages.Listen(cfg.Server.Port); err != nil {
		return nil, fmt.Errorf("package server: %w", err)
	}
	s.closers = append(s.closers, s.packages.Close)
	s.locator.SetPort(s.packages.Port())

	s.hub = bridge.NewHub(bridge.NewDispatcher(s.orchestrator, s, logger), logger)
	router := server.NewBasicRouter()
	router.Use(server.Recovery(logger), server.Logging(logger))
	router.Handler(s.hub)
	s.bridge = server.NewServer(cfg.Bridge.Host, router, logger)
	if err := s.bridge.Listen(cfg.Bridge.Port); err != nil {
		s.Close()
		return nil, fmt.Errorf("bridge server: %w", err)
	}
	s.closers = append(s.closers, s.bridge.Close)
	s.sinks = append(s.sinks, s.hub)

	if cfg.Database.Path != "" {
		if db, err := shared.OpenDatabase(cfg.Database); err != nil {
			logger.Warn("transfer history disabled", "path", cfg.Database.Path, "error", err)
		} else {
			s.attachHistory(db)
		}
	}

	if cfg.MQTT.Enabled {
		if sink, err := events.ConnectMQTT(cfg.MQTT, logger); err != nil {
			logger.Warn("mqtt publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			s.sinks = append(s.sinks, sink)
			s.closers = append(s.closers, sink.Close)
		}
	}

	return s, nil
}

func (s *service) attachHistory(db *sql.DB) {
	s.history = repositories.NewHistoryRepository(db)
	s.sinks = append(s.sinks, repositories.NewHistorySink(s.history, s.logger))
	s.closers = append(s.closers, db.Close)
}

// Run blocks until ctx is cancelled, then waits for the hub and the fan-out to stop.
func (s *service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		events.Dispatch(ctx, s.updates, s.logger, s.sinks...)
	}()

	s.logger.Info("serving packages",
		"packages", s.packages.Addr(), "bridge", s.bridge.Addr(),
		"advertise", s.locator.Host(), "device", s.device.Host())

	err := s.orchestrator.Run(ctx)
	wg.Wait()
	return err
}

// ApplySettings re-targets the device and rebinds the package server to the new port.
func (s *service) ApplySettings(settings models.Settings) error {
	s.device.SetAddress(settings.IP, 0)
	if s.config.Server.AdvertiseHost == "" {
		s.locator.SetHost(s.detectHost(settings.IP))
	}

	if settings.Port > 0 && settings.Port != s.packages.Port() {
		if err := s.packages.Listen(settings.Port); err != nil {
			return err
		}
		s.locator.SetPort(s.packages.Port())
	}

	s.logger.Info("settings applied", "device", settings.IP, "port", s.packages.Port())
	return nil
}

// Close stops listeners and releases history and MQTT in reverse order of creation.
func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *service) detectHost(deviceHost string) string {
	host, err := server.DetectAdvertiseHost(deviceHost, s.config.Device.Port)
	if err != nil {
		s.logger.Warn("could not detect advertise address, using loopback", "error", err)
		return "127.0.0.1"
	}
	return host
}

var _ bridge.SettingsApplier = (*service)(nil)

// Serve runs the package server, operator bridge and orchestrator until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port := cmd.Int("port"); port > 0 {
		r.config.Server.Port = int(port)
	}
	if port := cmd.Int("bridge-port"); port > 0 {
		r.config.Bridge.Port = int(port)
	}
	if host := cmd.String("advertise"); host != "" {
		r.config.Server.AdvertiseHost = host
	}

	device := r.deviceClient(cmd)
	if !device.Configured() {
		r.logger.Warn("no device host configured; set [device] host or send syncSettings")
	}

	svc, err := newService(r.config, device, r.logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Run(ctx)
}
