// Package notify turns successive job-list snapshots into one-shot
// notifications. Only status transitions produce events; the first snapshot
// is recorded silently and jobs seen for the first time are never reported.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/observer"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

// DefaultOutcomes are the statuses that produce a notification when a job moves into them
var DefaultOutcomes = []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed}

// Event reports that a job moved into a notified status
type Event struct {
	JobID   string      `json:"job_id"`
	JobType string      `json:"job_type"`
	ShortID string      `json:"short_id"`
	Outcome jobs.Status `json:"outcome"`
}

// Notifier tracks the last status observed per job. It is safe for concurrent
// use; Observe calls are serialized.
type Notifier struct {
	mu       sync.Mutex
	lastSeen map[string]jobs.Status
	primed   bool

	outcomes map[jobs.Status]struct{}
	sink     observer.List[Event]
	metrics  *telemetry.NotificationMetrics
}

// Option configures a Notifier
type Option func(*Notifier)

// WithOutcomes replaces DefaultOutcomes
func WithOutcomes(statuses ...jobs.Status) Option {
	return func(n *Notifier) {
		n.outcomes = make(map[jobs.Status]struct{}, len(statuses))
		for _, s := range statuses {
			n.outcomes[s] = struct{}{}
		}
	}
}

// WithMetrics sets the notification metrics recorder
func WithMetrics(m *telemetry.NotificationMetrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// New creates a notifier that has not yet seen a snapshot
func New(opts ...Option) *Notifier {
	n := &Notifier{lastSeen: make(map[string]jobs.Status)}
	WithOutcomes(DefaultOutcomes...)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Observe records a snapshot of the job list and returns the events it
// produced, which are also delivered to subscribers in order. Jobs missing
// from the snapshot are forgotten. If an ID appears more than once, the
// first occurrence is used.
func (n *Notifier) Observe(list []jobs.Job) []Event {
	n.mu.Lock()

	next := make(map[string]jobs.Status, len(list))
	var events []Event
	for _, job := range list {
		if _, dup := next[job.ID]; dup {
			continue
		}
		next[job.ID] = job.Status

		if !n.primed {
			continue
		}
		prev, seen := n.lastSeen[job.ID]
		if !seen || prev == job.Status || !n.notifies(job.Status) {
			continue
		}
		events = append(events, Event{
			JobID:   job.ID,
			JobType: job.Type,
			ShortID: job.ShortID(),
			Outcome: job.Status,
		})
	}

	if !n.primed {
		zap.L().Debug("Recorded initial job snapshot", zap.Int("jobs", len(next)))
	}
	n.lastSeen = next
	n.primed = true
	n.mu.Unlock()

	for _, e := range events {
		zap.L().Info("Job finished",
			zap.String("job_id", e.JobID),
			zap.String("job_type", e.JobType),
			zap.String("outcome", string(e.Outcome)))
		n.metrics.RecordNotification(context.Background(), string(e.Outcome))
		n.sink.Emit(e)
	}
	return events
}

// Subscribe registers fn as a notification sink
func (n *Notifier) Subscribe(fn func(Event)) func() {
	return n.sink.Subscribe(fn)
}

// Reset forgets every observed status. The next Observe is treated as the first.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSeen = make(map[string]jobs.Status)
	n.primed = false
}

// Tracked returns the number of jobs whose status is being remembered
func (n *Notifier) Tracked() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lastSeen)
}

// Primed reports whether the initial snapshot has been recorded
func (n *Notifier) Primed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.primed
}

func (n *Notifier) notifies(s jobs.Status) bool {
	_, ok := n.outcomes[s]
	return ok
}
