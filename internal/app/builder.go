package app

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-jobwatch/internal/api"
	"github.com/stacklok/toolhive-jobwatch/internal/config"
	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/connection/websocket"
	"github.com/stacklok/toolhive-jobwatch/internal/httpclient"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/jobsapi"
	"github.com/stacklok/toolhive-jobwatch/internal/notify"
	"github.com/stacklok/toolhive-jobwatch/internal/observer"
	"github.com/stacklok/toolhive-jobwatch/internal/poller"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// WatcherAppOptions is a function that configures the watcher app builder
type WatcherAppOptions func(*watcherAppConfig) error

// watcherAppConfig collects the builder inputs. Component overrides exist
// mainly for tests; anything left nil is built from the configuration.
type watcherAppConfig struct {
	config *config.Config

	// Optional component overrides
	client    jobsapi.Client
	dialer    connection.Dialer
	noDialer  bool
	clock     clock.WithTickerAndDelayedExecution
	telemetry *telemetry.Telemetry

	// Status server options; an empty address disables the server
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...WatcherAppOptions) (*watcherAppConfig, error) {
	cfg := &watcherAppConfig{
		clock:          clock.RealClock{},
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}

	return cfg, nil
}

// NewWatcherApp builds a WatcherApp from the given options
func NewWatcherApp(ctx context.Context, opts ...WatcherAppOptions) (*WatcherApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tel := cfg.telemetry
	if tel == nil {
		tel, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.GetTelemetry()))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	components, err := buildComponents(cfg, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build components: %w", err)
	}

	var httpServer *http.Server
	if cfg.address != "" {
		httpServer = buildHTTPServer(cfg, components.Poller, tel)
	}

	return &WatcherApp{
		config:       cfg.config,
		components:   components,
		httpServer:   httpServer,
		telemetry:    tel,
		clock:        cfg.clock,
		historyLimit: cfg.config.GetHistoryLimit(),
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress enables the status server on addr
func WithAddress(addr string) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := parts[0], parts[1]
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares for the status server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithJobsClient injects the jobs API client
func WithJobsClient(c jobsapi.Client) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		cfg.client = c
		return nil
	}
}

// WithDialer injects the push-channel dialer. A nil dialer disables live
// tailing; every channel then reports disconnected.
func WithDialer(d connection.Dialer) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		cfg.dialer = d
		cfg.noDialer = d == nil
		return nil
	}
}

// WithClock replaces the clock used for polling, reconnect delays and
// live entry timestamps
func WithClock(c clock.WithTickerAndDelayedExecution) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		cfg.clock = c
		return nil
	}
}

// WithTelemetry injects already initialized telemetry providers
func WithTelemetry(t *telemetry.Telemetry) WatcherAppOptions {
	return func(cfg *watcherAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildComponents wires the client, registry, poller and notifier
func buildComponents(b *watcherAppConfig, tel *telemetry.Telemetry) (*AppComponents, error) {
	zap.L().Info("Initializing watcher components",
		zap.String("base_url", b.config.GetBaseURL()))

	client := b.client
	if client == nil {
		client = jobsapi.NewClient(
			b.config.GetBaseURL(),
			httpclient.NewDefaultClient(b.config.GetTimeout()),
			jobsapi.WithTracer(tel.Tracer(jobsapi.TracerName)),
		)
	}

	dialer := b.dialer
	if dialer == nil && !b.noDialer {
		d, err := buildDialer(b.config)
		if err != nil {
			return nil, err
		}
		dialer = d
	}

	mp := tel.MeterProvider()
	connMetrics, err := telemetry.NewConnectionMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection metrics: %w", err)
	}
	pollMetrics, err := telemetry.NewPollMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll metrics: %w", err)
	}
	notifyMetrics, err := telemetry.NewNotificationMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	registry := connection.NewRegistry(
		connection.WithDialer(dialer),
		connection.WithClock(b.clock),
		connection.WithReconnectDelay(b.config.GetReconnectDelay()),
		connection.WithMetrics(connMetrics),
	)

	notifier := notify.New(
		notify.WithOutcomes(b.config.GetOutcomes()...),
		notify.WithMetrics(notifyMetrics),
	)

	snapshots := &observer.List[[]jobs.Job]{}

	p := poller.New(client,
		poller.WithInterval(b.config.GetPollInterval()),
		poller.WithLimit(b.config.GetJobLimit()),
		poller.WithClock(b.clock),
		poller.WithMetrics(pollMetrics),
		poller.WithObserver(func(list []jobs.Job) { notifier.Observe(list) }),
		poller.WithObserver(snapshots.Emit),
	)

	zap.L().Info("Watcher components initialized successfully")

	return &AppComponents{
		Client:    client,
		Registry:  registry,
		Poller:    p,
		Notifier:  notifier,
		Snapshots: snapshots,
	}, nil
}

// buildDialer derives the websocket channel URL from the configuration
func buildDialer(c *config.Config) (connection.Dialer, error) {
	wsURL := c.GetWebSocketURL()
	if wsURL == "" {
		derived, err := websocket.ChannelURL(c.GetBaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to derive websocket URL: %w", err)
		}
		wsURL = derived
	}

	d, err := websocket.NewDialer(wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket dialer: %w", err)
	}
	return d, nil
}

// buildHTTPServer builds the status server with router and middleware
func buildHTTPServer(b *watcherAppConfig, src api.SnapshotSource, tel *telemetry.Telemetry) *http.Server {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if h := tel.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      api.NewServer(src, serverOpts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	zap.L().Info("Status server configured", zap.String("address", b.address))
	return server
}
