// Package app provides application lifecycle management for the job watcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-jobwatch/internal/config"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/notify"
	"github.com/stacklok/toolhive-jobwatch/internal/stream"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

// WatcherApp encapsulates the components needed to watch jobs: the list
// poller, the transition notifier, the shared push channels and the
// optional status server.
type WatcherApp struct {
	config       *config.Config
	components   *AppComponents
	httpServer   *http.Server
	telemetry    *telemetry.Telemetry
	clock        clock.PassiveClock
	historyLimit int
}

// Start runs the poller and, when configured, the status server. It blocks
// until ctx is cancelled or a component fails.
func (app *WatcherApp) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.components.Poller.Start(gctx)
	})

	if app.httpServer != nil {
		g.Go(func() error {
			zap.L().Info("Status server listening", zap.String("address", app.httpServer.Addr))
			if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
			defer cancel()
			return app.httpServer.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Stop stops the poller, closes every push channel, shuts down the status
// server and flushes telemetry within timeout
func (app *WatcherApp) Stop(timeout time.Duration) error {
	zap.L().Info("Shutting down watcher...")

	app.components.Poller.Stop()
	app.components.Registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
	}
	if err := app.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	zap.L().Info("Watcher shutdown complete")
	return errors.Join(errs...)
}

// OnEvent registers fn for every notification event and returns a function
// that removes it
func (app *WatcherApp) OnEvent(fn func(notify.Event)) func() {
	return app.components.Notifier.Subscribe(fn)
}

// OnSnapshot registers fn for every successfully polled job list
func (app *WatcherApp) OnSnapshot(fn func([]jobs.Job)) func() {
	return app.components.Snapshots.Subscribe(fn)
}

// NewMerger creates a log view for jobID bound to the shared channels
func (app *WatcherApp) NewMerger(jobID string) *stream.Merger {
	return stream.New(jobID, app.components.Client, app.components.Registry,
		stream.WithClock(app.clock))
}

// Tail opens a log view for jobID: it seeds the polled status, loads
// history and starts live tailing unless the job is already finished.
// When onEntry is set it receives every history entry, oldest first, and then
// every live entry as it arrives; it is registered before live tailing starts.
// Polls keep the view's status current until the returned function is called.
func (app *WatcherApp) Tail(ctx context.Context, jobID string, onEntry func(jobs.LogEntry)) (*stream.Merger, func()) {
	m := app.NewMerger(jobID)
	if job, ok := app.components.Poller.Job(jobID); ok {
		m.SetPolled(job)
	}

	unsubscribe := app.OnSnapshot(func(list []jobs.Job) {
		for _, j := range list {
			if j.ID == jobID {
				m.SetPolled(j)
				return
			}
		}
	})

	m.LoadHistory(ctx, app.historyLimit)

	unsubscribeEntries := func() {}
	if onEntry != nil {
		for _, e := range m.History() {
			onEntry(e)
		}
		unsubscribeEntries = m.Subscribe(onEntry)
	}

	m.LiveTail()

	return m, func() {
		unsubscribeEntries()
		unsubscribe()
		m.Close()
	}
}

// GetConfig returns the application configuration
func (app *WatcherApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *WatcherApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the status server, or nil when it is disabled
func (app *WatcherApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
