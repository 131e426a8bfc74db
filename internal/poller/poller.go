// Package poller refreshes the job list on a fixed interval and hands every
// successful snapshot to its observers, typically the transition notifier.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/jobsapi"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

const (
	// DefaultInterval is the pause between two polls
	DefaultInterval = 5 * time.Second
	// DefaultLimit is the page size requested from the job list endpoint
	DefaultLimit = 100
)

// ErrAlreadyStarted is returned when Start is called on a running poller
var ErrAlreadyStarted = errors.New("poller already started")

// Poller periodically lists jobs. A failed poll is logged and skipped; the
// previous snapshot stays available and observers are not called.
type Poller struct {
	client    jobsapi.Client
	interval  time.Duration
	limit     int
	clock     clock.WithTicker
	observers []func([]jobs.Job)
	metrics   *telemetry.PollMetrics

	mu       sync.Mutex
	snapshot []jobs.Job
	hasData  bool
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval overrides DefaultInterval
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLimit overrides DefaultLimit
func WithLimit(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithClock sets the clock driving the poll ticker
func WithClock(c clock.WithTicker) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithObserver adds a function called with every successful snapshot.
// Observers run in registration order on the polling goroutine.
func WithObserver(fn func([]jobs.Job)) Option {
	return func(p *Poller) {
		p.observers = append(p.observers, fn)
	}
}

// WithMetrics sets the poll metrics recorder
func WithMetrics(m *telemetry.PollMetrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// New creates a poller for client
func New(client jobsapi.Client, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		interval: DefaultInterval,
		limit:    DefaultLimit,
		clock:    clock.RealClock{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start polls once immediately and then on every tick. It blocks until ctx
// is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		close(p.done)
		zap.L().Info("Job poller stopped")
	}()

	zap.L().Info("Starting job poller",
		zap.Duration("interval", p.interval),
		zap.Int("limit", p.limit))

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	_ = p.Poll(pollCtx)

	for {
		select {
		case <-ticker.C():
			_ = p.Poll(pollCtx)
		case <-pollCtx.Done():
			return nil
		}
	}
}

// Stop cancels a running Start and waits for it to return
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-p.done
	}
}

// Poll lists jobs once. On success the snapshot is replaced and observers
// are called; on failure the error is logged and returned.
func (p *Poller) Poll(ctx context.Context) error {
	start := p.clock.Now()
	list, err := p.client.ListJobs(ctx, p.limit)
	p.metrics.RecordPoll(ctx, p.clock.Since(start), err == nil)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Warn("Failed to poll jobs", zap.Error(err))
		}
		return err
	}

	p.mu.Lock()
	p.snapshot = list
	p.hasData = true
	p.mu.Unlock()

	p.metrics.RecordJobs(ctx, int64(len(list)))
	zap.L().Debug("Polled jobs", zap.Int("count", len(list)))

	for _, observe := range p.observers {
		observe(list)
	}
	return nil
}

// Snapshot returns a copy of the last successfully polled list and whether
// any poll has succeeded yet
func (p *Poller) Snapshot() ([]jobs.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]jobs.Job(nil), p.snapshot...), p.hasData
}

// Job looks up a job in the last snapshot
func (p *Poller) Job(id string) (jobs.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range p.snapshot {
		if j.ID == id {
			return j, true
		}
	}
	return jobs.Job{}, false
}
