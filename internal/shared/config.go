package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Device   DeviceConfig   `toml:"device"`
	Server   ServerConfig   `toml:"server"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Tasks    TasksConfig    `toml:"tasks"`
	Database DatabaseConfig `toml:"database"`
	MQTT     MQTTConfig     `toml:"mqtt"`
}

// DeviceConfig describes how to reach the console's debug API.
type DeviceConfig struct {
	Host      string  `toml:"host"`
	Port      int     `toml:"port"`
	TimeoutMS int     `toml:"timeout_ms"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, 0 disables pacing
	UserAgent string  `toml:"user_agent"` // pattern the device's package requests carry
}

// ServerConfig contains settings for the device-facing package HTTP server.
type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	AdvertiseHost string `toml:"advertise_host"` // address put into package URLs; detected when empty
}

// BridgeConfig contains settings for the operator WebSocket bridge.
type BridgeConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TasksConfig contains orchestrator timing.
type TasksConfig struct {
	RefreshIntervalMS int `toml:"refresh_interval_ms"`
	SweepIntervalMS   int `toml:"sweep_interval_ms"`
	GracePeriodS      int `toml:"grace_period_s"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// MQTTConfig contains the optional task event publisher settings.
type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

// Timeout returns the per-request device timeout.
func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// RefreshInterval returns the period of the device status poll loop.
func (t TasksConfig) RefreshInterval() time.Duration {
	return time.Duration(t.RefreshIntervalMS) * time.Millisecond
}

// SweepInterval returns the period of the registry sweep loop.
func (t TasksConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalMS) * time.Millisecond
}

// GracePeriod returns how long a presumed-complete task waits before it is finalized.
func (t TasksConfig) GracePeriod() time.Duration {
	return time.Duration(t.GracePeriodS) * time.Second
}

// Validate reports the first setting that cannot work at runtime.
func (c *Config) Validate() error {
	switch {
	case c.Device.Port <= 0 || c.Device.Port > 65535:
		return fmt.Errorf("%w: device.port %d out of range", ErrInvalidConfig, c.Device.Port)
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	case c.Bridge.Port < 0 || c.Bridge.Port > 65535:
		return fmt.Errorf("%w: bridge.port %d out of range", ErrInvalidConfig, c.Bridge.Port)
	case c.Device.TimeoutMS <= 0:
		return fmt.Errorf("%w: device.timeout_ms must be positive", ErrInvalidConfig)
	case c.Tasks.RefreshIntervalMS <= 0 || c.Tasks.SweepIntervalMS <= 0:
		return fmt.Errorf("%w: task intervals must be positive", ErrInvalidConfig)
	case c.MQTT.QoS < 0 || c.MQTT.QoS > 2:
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a TOML configuration file from the specified path and decodes it over [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
