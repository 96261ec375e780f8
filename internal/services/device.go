package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
)

// Device API endpoints, relative to http://<host>:<port>/api.
const (
	EndpointInstall  = "/install"
	EndpointProgress = "/get_task_progress"
	EndpointRemove   = "/unregister_task"
	EndpointStop     = "/stop_task"
	EndpointResume   = "/resume_task"
	EndpointFind     = "/find_task"
)

const (
	DefaultDevicePort    = 12800
	DefaultDeviceTimeout = 2 * time.Second

	messageNoTaskID  = "No task id"
	messageTimedOut  = "TimedOut"
	messageBadTaskID = "Invalid task id"
)

// SubType is the device's task category used by /find_task.
type SubType int

const (
	SubTypeGame              SubType = 6
	SubTypeAdditionalContent SubType = 7
	SubTypePatch             SubType = 8
	SubTypeLicense           SubType = 9
)

// SubTypes lists every category in the order install probes them.
var SubTypes = []SubType{SubTypeGame, SubTypeAdditionalContent, SubTypePatch, SubTypeLicense}

func (s SubType) String() string {
	switch s {
	case SubTypeGame:
		return "game"
	case SubTypeAdditionalContent:
		return "additional-content"
	case SubTypePatch:
		return "patch"
	case SubTypeLicense:
		return "license"
	}
	return "subtype(" + strconv.Itoa(int(s)) + ")"
}

// DeviceOptions configures a [DeviceClient].
type DeviceOptions struct {
	Host      string
	Port      int
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables pacing
	Client    *http.Client
	Logger    *log.Logger
	Now       func() time.Time
}

// DeviceClient speaks the console's remote package installer API.
//
// Every request is a JSON POST bounded by the configured timeout. Transport failures and
// undecodable bodies are returned as failed [Response] values rather than errors.
type DeviceClient struct {
	mu         sync.RWMutex
	host       string
	port       int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	ledger     *RetryLedger
	logger     *log.Logger
}

// NewDeviceClient creates a device client from opts, filling in defaults.
func NewDeviceClient(opts DeviceOptions) *DeviceClient {
	if opts.Port == 0 {
		opts.Port = DefaultDevicePort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDeviceTimeout
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &DeviceClient{
		host:       opts.Host,
		port:       opts.Port,
		timeout:    opts.Timeout,
		httpClient: opts.Client,
		limiter:    limiter,
		ledger:     NewRetryLedger(opts.Now),
		logger:     opts.Logger.With("component", "device"),
	}
}

// NewDeviceClientFromConfig builds a client from the [device] config section.
func NewDeviceClientFromConfig(cfg shared.DeviceConfig, logger *log.Logger) *DeviceClient {
	return NewDeviceClient(DeviceOptions{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Timeout:   cfg.Timeout(),
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})
}

// SetAddress re-targets the client. A zero port keeps the current one.
func (d *DeviceClient) SetAddress(host string, port int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = host
	if port > 0 {
		d.port = port
	}
}

// Host returns the device host currently targeted.
func (d *DeviceClient) Host() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.host
}

// Configured reports whether a device host is set.
func (d *DeviceClient) Configured() bool {
	return d.Host() != ""
}

// BaseURL returns the API root, e.g. http://192.168.1.50:12800/api.
func (d *DeviceClient) BaseURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return "http://" + net.JoinHostPort(d.host, strconv.Itoa(d.port)) + "/api"
}

// Ledger exposes the status retry ledger.
func (d *DeviceClient) Ledger() *RetryLedger {
	return d.ledger
}

// Call POSTs payload to endpoint and decodes the reply.
func (d *DeviceClient) Call(ctx context.Context, endpoint string, payload any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode request", "endpoint", endpoint, "error", err)
		return Fail(MessageSendFailure)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("request not sent", "endpoint", endpoint, "error", err)
			return Fail(MessageSendFailure)
		}
	}

	url := d.BaseURL() + endpoint
	d.logger.Debug("sending request", "url", url, "body", string(body))

	raw, err := d.post(ctx, url, body)
	if err != nil {
		d.logger.Warn("request failed", "url", url, "error", err)
		return Fail(MessageSendFailure)
	}

	resp := Decode(raw)
	d.logger.Debug("received response", "url", url, "status", resp.Status, "message", resp.Message)
	return resp
}

func (d *DeviceClient) post(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", shared.ErrDeviceRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrDeviceRequest, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", shared.ErrDeviceRequest, err)
	}
	return string(data), nil
}

// Install asks the device to download urls.
//
// When task already carries a device task id the device is asked to resume it first. A failed
// direct install of a package with a known content id falls back to locating an existing device
// task by sub type and resuming the first one found. The original install failure is returned
// when nothing succeeds.
func (d *DeviceClient) Install(ctx context.Context, urls []string, task *models.Task) Response {
	if task.DeviceTaskID != nil {
		if resp := d.Resume(ctx, *task.DeviceTaskID); resp.OK() {
			return successWithID(*task.DeviceTaskID)
		}
	}

	resp := d.Call(ctx, EndpointInstall, map[string]any{"type": "direct", "packages": urls})
	if resp.OK() || task.ContentID == "" {
		return resp
	}

	for _, st := range SubTypes {
		found := d.FindTask(ctx, task.ContentID, st)
		if !found.OK() || found.TaskID == nil || *found.TaskID == 0 {
			continue
		}
		d.logger.Info("found existing device task", "name", task.Name, "sub_type", st, "task_id", *found.TaskID)
		if resumed := d.Resume(ctx, *found.TaskID); resumed.OK() {
			return successWithID(*found.TaskID)
		}
	}
	return resp
}

// Resume asks the device to continue a stopped task.
func (d *DeviceClient) Resume(ctx context.Context, id int64) Response {
	if id <= 0 {
		return Fail(messageBadTaskID)
	}
	return d.Call(ctx, EndpointResume, map[string]any{"task_id": id})
}

// FindTask looks up an existing device task for a content id and sub type.
func (d *DeviceClient) FindTask(ctx context.Context, contentID string, subType SubType) Response {
	return d.Call(ctx, EndpointFind, map[string]any{"content_id": contentID, "sub_type": int(subType)})
}

// Status polls the device for task progress, subject to the per-name retry ledger.
func (d *DeviceClient) Status(ctx context.Context, task *models.Task) Response {
	if task.DeviceTaskID == nil || *task.DeviceTaskID == 0 {
		return Fail(messageNoTaskID)
	}
	if !d.ledger.Allow(task.Name) {
		return Fail(messageTimedOut)
	}

	resp := d.Call(ctx, EndpointProgress, map[string]any{"task_id": *task.DeviceTaskID})
	if resp.Status == StatusFail {
		st := d.ledger.Failure(task.Name)
		if !st.SuppressUntil.IsZero() {
			d.logger.Warn("suppressing status polls", "name", task.Name, "retries", st.Retries, "until", st.SuppressUntil)
		}
		return resp
	}

	d.ledger.Success(task.Name)
	return resp
}

// Stop pauses a device task.
func (d *DeviceClient) Stop(ctx context.Context, id int64) Response {
	if id <= 0 {
		return Fail(messageBadTaskID)
	}
	return d.Call(ctx, EndpointStop, map[string]any{"task_id": id})
}

// Remove unregisters a device task.
func (d *DeviceClient) Remove(ctx context.Context, id int64) Response {
	if id <= 0 {
		return Fail(messageBadTaskID)
	}
	return d.Call(ctx, EndpointRemove, map[string]any{"task_id": id})
}

// ClearRetry drops the retry ledger entry for name.
func (d *DeviceClient) ClearRetry(name string) {
	d.ledger.Clear(name)
}

func successWithID(id int64) Response {
	return Response{
		Status: StatusSuccess,
		TaskID: &id,
		Fields: map[string]any{"status": StatusSuccess, "task_id": id},
	}
}
