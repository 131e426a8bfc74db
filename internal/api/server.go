// Package api serves the watcher's local status endpoints: health, readiness,
// the last polled job snapshot and, when enabled, Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
)

// SnapshotSource provides the last polled job list
type SnapshotSource interface {
	// Snapshot returns the last successful list and whether any poll has succeeded
	Snapshot() ([]jobs.Job, bool)
}

// ServerOption configures the status server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates the router for the status endpoints
func NewServer(src SnapshotSource, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{source: src}
	r.Get("/health", h.health)
	r.Get("/readiness", h.readiness)
	r.Get("/jobs", h.listJobs)
	r.Get("/jobs/{jobID}", h.getJob)

	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		zap.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
