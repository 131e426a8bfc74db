// Package config provides configuration loading and management for the job watcher.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read by the CLI
	EnvPrefix = "THV_JOBWATCH"

	// DefaultBaseURL is the REST API root used when none is configured
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout bounds a single REST request
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval is the pause between two job list polls
	DefaultPollInterval = 5 * time.Second

	// DefaultJobLimit is the page size requested when listing jobs
	DefaultJobLimit = 100

	// DefaultHistoryLimit is the number of historical log entries loaded per job
	DefaultHistoryLimit = 500

	// DefaultReconnectDelay is the pause before reopening a dropped live channel
	DefaultReconnectDelay = 5 * time.Second
)

// DefaultOutcomes are the statuses that trigger a notification
var DefaultOutcomes = []string{string(jobs.StatusCompleted), string(jobs.StatusFailed)}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Polling       PollingConfig       `yaml:"polling"`
	Stream        StreamConfig        `yaml:"stream"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telemetry     *telemetry.Config   `yaml:"telemetry,omitempty"`
}

// ServerConfig locates the job backend
type ServerConfig struct {
	// BaseURL is the REST API root, e.g. "http://localhost:8000/api".
	// The client appends /jobs and /jobs/{id}/logs.
	BaseURL string `yaml:"baseURL,omitempty"`

	// WebSocketURL is the root of the live status channels. When empty it is
	// derived from BaseURL by switching the scheme and using /ws/jobs.
	WebSocketURL string `yaml:"websocketURL,omitempty"`

	// Timeout bounds each REST request (e.g. "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// PollingConfig controls job list refreshes
type PollingConfig struct {
	Interval string `yaml:"interval,omitempty"`
	JobLimit int    `yaml:"jobLimit,omitempty"`
}

// StreamConfig controls per-job history and live channels
type StreamConfig struct {
	HistoryLimit   int    `yaml:"historyLimit,omitempty"`
	ReconnectDelay string `yaml:"reconnectDelay,omitempty"`
}

// NotificationsConfig selects which transitions are reported
type NotificationsConfig struct {
	// Outcomes lists the statuses that produce a notification when a job
	// moves into them. Defaults to completed and failed.
	Outcomes []string `yaml:"outcomes,omitempty"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{}
}

// LoadConfig loads and parses configuration. Without a path the defaults are returned.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if err := c.Server.validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Polling.validate(); err != nil {
		errs = append(errs, fmt.Errorf("polling: %w", err))
	}
	if err := c.Stream.validate(); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}
	if err := c.Notifications.validate(); err != nil {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (s *ServerConfig) validate() error {
	if s.BaseURL != "" {
		if err := validateURL(s.BaseURL, "http", "https"); err != nil {
			return fmt.Errorf("baseURL: %w", err)
		}
	}
	if s.WebSocketURL != "" {
		if err := validateURL(s.WebSocketURL, "ws", "wss", "http", "https"); err != nil {
			return fmt.Errorf("websocketURL: %w", err)
		}
	}
	return validateDuration("timeout", s.Timeout)
}

func (p *PollingConfig) validate() error {
	if p.JobLimit < 0 {
		return fmt.Errorf("jobLimit must not be negative, got %d", p.JobLimit)
	}
	return validateDuration("interval", p.Interval)
}

func (s *StreamConfig) validate() error {
	if s.HistoryLimit < 0 {
		return fmt.Errorf("historyLimit must not be negative, got %d", s.HistoryLimit)
	}
	return validateDuration("reconnectDelay", s.ReconnectDelay)
}

func (n *NotificationsConfig) validate() error {
	for i, raw := range n.Outcomes {
		if _, ok := jobs.ParseStatus(raw); !ok {
			return fmt.Errorf("outcomes[%d]: unknown job status %q", i, raw)
		}
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
}

func validateDuration(field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '5s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, raw)
	}
	return nil
}

// parseDurationOr parses raw, falling back to def when it is empty or invalid
func parseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetBaseURL returns the REST API root
func (c *Config) GetBaseURL() string {
	if c.Server.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.Server.BaseURL
}

// GetWebSocketURL returns the configured channel root, or "" to derive it from the base URL
func (c *Config) GetWebSocketURL() string {
	return c.Server.WebSocketURL
}

// GetTimeout returns the REST request timeout
func (c *Config) GetTimeout() time.Duration {
	return parseDurationOr(c.Server.Timeout, DefaultTimeout)
}

// GetPollInterval returns the job list poll interval
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOr(c.Polling.Interval, DefaultPollInterval)
}

// GetJobLimit returns the job list page size
func (c *Config) GetJobLimit() int {
	if c.Polling.JobLimit <= 0 {
		return DefaultJobLimit
	}
	return c.Polling.JobLimit
}

// GetHistoryLimit returns the number of historical log entries to load
func (c *Config) GetHistoryLimit() int {
	if c.Stream.HistoryLimit <= 0 {
		return DefaultHistoryLimit
	}
	return c.Stream.HistoryLimit
}

// GetReconnectDelay returns the live channel reconnect delay
func (c *Config) GetReconnectDelay() time.Duration {
	return parseDurationOr(c.Stream.ReconnectDelay, DefaultReconnectDelay)
}

// GetOutcomes returns the statuses that trigger notifications
func (c *Config) GetOutcomes() []jobs.Status {
	raw := c.Notifications.Outcomes
	if len(raw) == 0 {
		raw = DefaultOutcomes
	}
	out := make([]jobs.Status, 0, len(raw))
	for _, s := range raw {
		out = append(out, jobs.Status(s))
	}
	return out
}

// GetTelemetry returns the telemetry section, never nil
func (c *Config) GetTelemetry() *telemetry.Config {
	if c.Telemetry == nil {
		return &telemetry.Config{}
	}
	return c.Telemetry
}
