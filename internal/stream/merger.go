// Package stream presents one job's output as a single sequence: a page of
// historical log entries fetched once, followed by whatever arrives on the
// job's live channel afterwards. It also resolves which source currently
// determines the job's status.
package stream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/observer"
)

// DefaultHistoryLimit is used when LoadHistory is called with a non-positive limit
const DefaultHistoryLimit = 500

// HistoryLoader fetches a job's historical log entries, oldest first
type HistoryLoader interface {
	GetLogs(ctx context.Context, jobID string, limit int) ([]jobs.LogEntry, error)
}

// Channel is the live feed a Merger subscribes to. *connection.Registry satisfies it.
type Channel interface {
	Subscribe(key string, onEvent func([]byte)) func()
	Status(key string) connection.Status
}

// Source names where the values in a View came from
type Source string

const (
	// SourceNone means nothing has been observed and the view shows pending
	SourceNone Source = "none"
	// SourcePolled means the last REST snapshot determines the view
	SourcePolled Source = "polled"
	// SourceLive means a live channel message determines the view
	SourceLive Source = "live"
)

// View is the resolved status of a job at one instant
type View struct {
	Status   jobs.Status
	Progress int
	Message  string
	Source   Source
}

// liveState holds the fields the most recent live messages carried
type liveState struct {
	status      jobs.Status
	progress    int
	hasProgress bool
	message     string
	hasMessage  bool
}

// Merger combines history and live tail for a single job. All methods are
// safe for concurrent use. Results of work still in flight when Close is
// called are discarded.
type Merger struct {
	jobID   string
	loader  HistoryLoader
	channel Channel
	clock   clock.PassiveClock

	mu          sync.Mutex
	history     []jobs.LogEntry
	historySeq  uint64
	live        []jobs.LogEntry
	liveState   *liveState
	polled      *jobs.Job
	tailing     bool
	unsubscribe func()
	closed      bool

	entries observer.List[jobs.LogEntry]
}

// Option configures a Merger
type Option func(*Merger)

// WithClock sets the clock used to stamp live messages that carry no timestamp
func WithClock(c clock.PassiveClock) Option {
	return func(m *Merger) {
		m.clock = c
	}
}

// New creates a merger for jobID. loader and channel may be nil, in which case
// the corresponding source simply stays empty.
func New(jobID string, loader HistoryLoader, channel Channel, opts ...Option) *Merger {
	m := &Merger{
		jobID:   jobID,
		loader:  loader,
		channel: channel,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// JobID returns the job this merger follows
func (m *Merger) JobID() string {
	return m.jobID
}

// LoadHistory fetches up to limit historical entries and makes them the
// prefix of the merged view. A failed fetch is logged and leaves the
// current history in place. Live entries are never affected.
func (m *Merger) LoadHistory(ctx context.Context, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m.mu.Lock()
	if m.closed || m.loader == nil {
		m.mu.Unlock()
		return
	}
	m.historySeq++
	seq := m.historySeq
	m.mu.Unlock()

	entries, err := m.loader.GetLogs(ctx, m.jobID, limit)
	if err != nil {
		zap.L().Warn("Failed to load job history",
			zap.String("job_id", m.jobID),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		zap.L().Debug("Discarding history for closed view", zap.String("job_id", m.jobID))
		return
	}
	if seq != m.historySeq {
		// a newer fetch was started after this one
		return
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	m.history = append([]jobs.LogEntry(nil), entries...)
}

// LiveTail subscribes to the job's live channel. Calling it again is a no-op.
// When the last polled status is already terminal no subscription is made.
func (m *Merger) LiveTail() {
	m.mu.Lock()
	if m.closed || m.tailing || m.channel == nil {
		m.mu.Unlock()
		return
	}
	if m.polled != nil && m.polled.Status.IsTerminal() {
		m.mu.Unlock()
		zap.L().Debug("Job already finished, not tailing",
			zap.String("job_id", m.jobID),
			zap.String("status", string(m.polled.Status)))
		return
	}
	m.tailing = true
	m.mu.Unlock()

	unsubscribe := m.channel.Subscribe(m.jobID, m.onMessage)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Tailing reports whether LiveTail subscribed to the channel
func (m *Merger) Tailing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tailing && !m.closed
}

// Merged returns the history followed by the live entries in arrival order
func (m *Merger) Merged() []jobs.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobs.LogEntry, 0, len(m.history)+len(m.live))
	out = append(out, m.history...)
	return append(out, m.live...)
}

// History returns only the historical prefix
func (m *Merger) History() []jobs.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jobs.LogEntry(nil), m.history...)
}

// Live returns only the entries received on the live channel
func (m *Merger) Live() []jobs.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jobs.LogEntry(nil), m.live...)
}

// SetPolled records the latest REST snapshot of the job. Snapshots for other
// jobs are ignored.
func (m *Merger) SetPolled(job jobs.Job) {
	if job.ID != m.jobID {
		zap.L().Debug("Ignoring snapshot for another job",
			zap.String("job_id", m.jobID),
			zap.String("snapshot_id", job.ID))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.polled = &job
}

// Current resolves the job's status from the sources seen so far. The most
// recent live message wins over the last polled snapshot, which wins over
// pending. Fields a live message did not carry fall through to the snapshot.
func (m *Merger) Current() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{Status: jobs.StatusPending, Source: SourceNone}
	if p := m.polled; p != nil {
		v = View{Status: p.Status, Progress: p.Progress, Message: p.StatusMessage, Source: SourcePolled}
	}
	if l := m.liveState; l != nil {
		v.Source = SourceLive
		if l.status != "" {
			v.Status = l.status
		}
		if l.hasProgress {
			v.Progress = l.progress
		}
		if l.hasMessage {
			v.Message = l.message
		}
	}
	return v
}

// ConnectionStatus reports the live channel's status for UI indicators
func (m *Merger) ConnectionStatus() connection.Status {
	m.mu.Lock()
	tailing := m.tailing && !m.closed
	m.mu.Unlock()

	if !tailing {
		return connection.StatusDisconnected
	}
	return m.channel.Status(m.jobID)
}

// Subscribe registers fn for every live entry appended after this call
func (m *Merger) Subscribe(fn func(jobs.LogEntry)) func() {
	return m.entries.Subscribe(fn)
}

// Close releases the live subscription. Results arriving afterwards are dropped.
func (m *Merger) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Merger) onMessage(data []byte) {
	update, ok := decodeUpdate(data)
	if !ok {
		zap.L().Debug("Dropping undecodable live message",
			zap.String("job_id", m.jobID),
			zap.Int("bytes", len(data)))
		return
	}

	entry := m.entryFor(update)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.live = append(m.live, entry)
	if m.liveState == nil {
		m.liveState = &liveState{}
	}
	if update.Status != "" {
		m.liveState.status = update.Status
	}
	if update.hasProgress {
		m.liveState.progress = update.Progress
		m.liveState.hasProgress = true
	}
	if update.hasMessage {
		m.liveState.message = update.Message
		m.liveState.hasMessage = true
	}
	m.mu.Unlock()

	m.entries.Emit(entry)
}

func (m *Merger) entryFor(u decodedUpdate) jobs.LogEntry {
	entry := jobs.LogEntry{
		Timestamp: m.clock.Now().UTC(),
		Level:     jobs.ParseLevel(u.Level),
		Message:   u.Message,
	}
	if u.Timestamp != nil {
		entry.Timestamp = *u.Timestamp
	}
	if u.Level == "" && u.Status == jobs.StatusFailed {
		entry.Level = jobs.LevelError
	}
	if entry.Message == "" {
		entry.Message = describe(u)
	}
	return entry
}

func describe(u decodedUpdate) string {
	switch {
	case u.Status != "" && u.hasProgress:
		return fmt.Sprintf("%s (%d%%)", u.Status, u.Progress)
	case u.Status != "":
		return string(u.Status)
	case u.hasProgress:
		return fmt.Sprintf("%d%%", u.Progress)
	default:
		return ""
	}
}
