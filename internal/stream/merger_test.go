package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/connection/connectiontest"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/jobsapi/mocks"
)

const testJobID = "3f2a9c1b-7d4e-4e1a"

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeChannel delivers pushed payloads synchronously to the subscriber
type fakeChannel struct {
	mu           sync.Mutex
	handlers     map[string]func([]byte)
	subscribes   int
	unsubscribes int
	status       connection.Status
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[string]func([]byte){}, status: connection.StatusConnected}
}

func (f *fakeChannel) Subscribe(key string, onEvent func([]byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.handlers[key] = onEvent
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
		delete(f.handlers, key)
	}
}

func (f *fakeChannel) Status(string) connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeChannel) push(t *testing.T, key, payload string) {
	t.Helper()
	f.mu.Lock()
	fn, ok := f.handlers[key]
	f.mu.Unlock()
	if ok {
		fn([]byte(payload))
	}
}

func entry(offset int, msg string) jobs.LogEntry {
	return jobs.LogEntry{Timestamp: baseTime.Add(time.Duration(offset) * time.Second), Level: jobs.LevelInfo, Message: msg}
}

func messages(entries []jobs.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestMerger_MergeOrdering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		historyFirst bool
	}{
		{name: "history loaded before live events", historyFirst: true},
		{name: "history loaded after live events", historyFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			loader := mocks.NewMockClient(ctrl)
			loader.EXPECT().GetLogs(gomock.Any(), testJobID, 500).
				Return([]jobs.LogEntry{entry(0, "e1"), entry(1, "e2")}, nil)
			ch := newFakeChannel()

			m := New(testJobID, loader, ch)
			defer m.Close()

			m.LiveTail()
			if tt.historyFirst {
				m.LoadHistory(context.Background(), 0)
			}
			ch.push(t, testJobID, `{"status":"processing","progress":10,"message":"e3"}`)
			ch.push(t, testJobID, `{"status":"processing","progress":20,"message":"e4"}`)
			if !tt.historyFirst {
				m.LoadHistory(context.Background(), 0)
			}

			assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, messages(m.Merged()))
		})
	}
}

func TestMerger_HistoryFailureDegradesToLive(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := mocks.NewMockClient(ctrl)
	loader.EXPECT().GetLogs(gomock.Any(), testJobID, 100).Return(nil, errors.New("503 Service Unavailable"))
	ch := newFakeChannel()

	m := New(testJobID, loader, ch)
	defer m.Close()

	m.LiveTail()
	m.LoadHistory(context.Background(), 100)
	ch.push(t, testJobID, `{"status":"processing","progress":50,"message":"halfway"}`)

	assert.Empty(t, m.History())
	assert.Equal(t, []string{"halfway"}, messages(m.Merged()))
}

func TestMerger_RefetchKeepsLiveAndPreviousHistoryOnFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		loader.EXPECT().GetLogs(gomock.Any(), testJobID, 10).Return([]jobs.LogEntry{entry(0, "h1")}, nil),
		loader.EXPECT().GetLogs(gomock.Any(), testJobID, 10).Return(nil, errors.New("timeout")),
		loader.EXPECT().GetLogs(gomock.Any(), testJobID, 10).Return([]jobs.LogEntry{entry(0, "h1"), entry(1, "h2")}, nil),
	)
	ch := newFakeChannel()

	m := New(testJobID, loader, ch)
	defer m.Close()
	m.LiveTail()

	m.LoadHistory(context.Background(), 10)
	ch.push(t, testJobID, `{"message":"live"}`)
	assert.Equal(t, []string{"h1", "live"}, messages(m.Merged()))

	m.LoadHistory(context.Background(), 10)
	assert.Equal(t, []string{"h1", "live"}, messages(m.Merged()))

	m.LoadHistory(context.Background(), 10)
	assert.Equal(t, []string{"h1", "h2", "live"}, messages(m.Merged()))
}

func TestMerger_HistoryIsTruncatedToLimit(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := mocks.NewMockClient(ctrl)
	loader.EXPECT().GetLogs(gomock.Any(), testJobID, 2).
		Return([]jobs.LogEntry{entry(0, "old"), entry(1, "mid"), entry(2, "new")}, nil)

	m := New(testJobID, loader, nil)
	m.LoadHistory(context.Background(), 2)
	assert.Equal(t, []string{"mid", "new"}, messages(m.Merged()))
}

func TestMerger_StatusPrecedence(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	defer m.Close()

	assert.Equal(t, View{Status: jobs.StatusPending, Source: SourceNone}, m.Current())

	m.SetPolled(jobs.Job{ID: testJobID, Status: jobs.StatusProcessing, Progress: 40, StatusMessage: "tiling"})
	assert.Equal(t, View{Status: jobs.StatusProcessing, Progress: 40, Message: "tiling", Source: SourcePolled}, m.Current())

	m.LiveTail()
	ch.push(t, testJobID, `{"status":"processing","progress":70,"message":"mosaicking"}`)
	assert.Equal(t, View{Status: jobs.StatusProcessing, Progress: 70, Message: "mosaicking", Source: SourceLive}, m.Current())

	// a later snapshot does not override live values
	m.SetPolled(jobs.Job{ID: testJobID, Status: jobs.StatusProcessing, Progress: 45})
	assert.Equal(t, 70, m.Current().Progress)
	assert.Equal(t, SourceLive, m.Current().Source)

	ch.push(t, testJobID, `{"status":"completed","progress":100,"message":"done"}`)
	v := m.Current()
	assert.Equal(t, jobs.StatusCompleted, v.Status)
	assert.Equal(t, 100, v.Progress)
}

func TestMerger_PartialLiveMessageFallsThroughToSnapshot(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	defer m.Close()

	m.SetPolled(jobs.Job{ID: testJobID, Status: jobs.StatusProcessing, Progress: 40, StatusMessage: "tiling"})
	m.LiveTail()
	ch.push(t, testJobID, `{"progress":55}`)

	assert.Equal(t, View{Status: jobs.StatusProcessing, Progress: 55, Message: "tiling", Source: SourceLive}, m.Current())
}

func TestMerger_SetPolledIgnoresOtherJobs(t *testing.T) {
	t.Parallel()

	m := New(testJobID, nil, nil)
	m.SetPolled(jobs.Job{ID: "other", Status: jobs.StatusFailed})
	assert.Equal(t, SourceNone, m.Current().Source)
}

func TestMerger_TerminalJobIsNotTailed(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	defer m.Close()

	m.SetPolled(jobs.Job{ID: testJobID, Status: jobs.StatusCancelled, CompletedAt: &baseTime})
	m.LiveTail()

	assert.False(t, m.Tailing())
	assert.Equal(t, 0, ch.subscribes)
	assert.Equal(t, connection.StatusDisconnected, m.ConnectionStatus())
	assert.Empty(t, m.Merged())
}

func TestMerger_LiveTailIsIdempotent(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)

	m.LiveTail()
	m.LiveTail()
	assert.Equal(t, 1, ch.subscribes)
	assert.True(t, m.Tailing())
	assert.Equal(t, connection.StatusConnected, m.ConnectionStatus())

	m.Close()
	m.Close()
	assert.Equal(t, 1, ch.unsubscribes)
	assert.False(t, m.Tailing())
}

func TestMerger_CloseDiscardsInFlightHistory(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	loader := mocks.NewMockClient(ctrl)

	started := make(chan struct{})
	release := make(chan struct{})
	loader.EXPECT().GetLogs(gomock.Any(), testJobID, DefaultHistoryLimit).
		DoAndReturn(func(context.Context, string, int) ([]jobs.LogEntry, error) {
			close(started)
			<-release
			return []jobs.LogEntry{entry(0, "late")}, nil
		})

	m := New(testJobID, loader, newFakeChannel())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.LoadHistory(context.Background(), DefaultHistoryLimit)
	}()

	<-started
	m.Close()
	close(release)
	<-done

	assert.Empty(t, m.Merged())
}

func TestMerger_CloseDropsLiveMessages(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	m.LiveTail()

	handler := ch.handlers[testJobID]
	m.Close()
	handler([]byte(`{"status":"failed","message":"too late"}`))

	assert.Empty(t, m.Merged())
	assert.Equal(t, SourceNone, m.Current().Source)
}

func TestMerger_UndecodableMessagesAreDropped(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	defer m.Close()
	m.LiveTail()

	for _, payload := range []string{`not json`, `[1,2]`, `{}`, `{"unrelated":true}`, `"processing"`} {
		ch.push(t, testJobID, payload)
	}
	ch.push(t, testJobID, `{"status":"processing","progress":5}`)

	assert.Equal(t, []string{"processing (5%)"}, messages(m.Merged()))
}

func TestMerger_LiveEntryFields(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakePassiveClock(baseTime)
	ch := newFakeChannel()
	m := New(testJobID, nil, ch, WithClock(clk))
	defer m.Close()
	m.LiveTail()

	ch.push(t, testJobID, `{"status":"processing","progress":150,"message":"working"}`)
	ch.push(t, testJobID, `{"status":"failed","message":"quota exceeded"}`)
	ch.push(t, testJobID, `{"message":"custom","level":"warning","timestamp":"2024-05-01T09:00:00Z"}`)

	live := m.Live()
	require.Len(t, live, 3)

	assert.Equal(t, jobs.LogEntry{Timestamp: baseTime, Level: jobs.LevelInfo, Message: "working"}, live[0])
	assert.Equal(t, jobs.LevelError, live[1].Level)
	assert.Equal(t, jobs.LevelWarn, live[2].Level)
	assert.Equal(t, baseTime.Add(-time.Hour), live[2].Timestamp)
	assert.Equal(t, 100, m.Current().Progress)
}

func TestMerger_SubscribeReceivesLiveEntries(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	m := New(testJobID, nil, ch)
	defer m.Close()

	var got []string
	unsubscribe := m.Subscribe(func(e jobs.LogEntry) { got = append(got, e.Message) })
	m.LiveTail()

	ch.push(t, testJobID, `{"message":"one"}`)
	ch.push(t, testJobID, `{"message":"two"}`)
	unsubscribe()
	ch.push(t, testJobID, `{"message":"three"}`)

	assert.Equal(t, []string{"one", "two"}, got)
	assert.Len(t, m.Live(), 3)
}

func TestMerger_NilSourcesDegrade(t *testing.T) {
	t.Parallel()

	m := New(testJobID, nil, nil)
	m.LoadHistory(context.Background(), 10)
	m.LiveTail()

	assert.Empty(t, m.Merged())
	assert.False(t, m.Tailing())
	assert.Equal(t, connection.StatusDisconnected, m.ConnectionStatus())
	assert.Equal(t, jobs.StatusPending, m.Current().Status)
	m.Close()
}

func TestMerger_WithRegistry(t *testing.T) {
	t.Parallel()

	dialer := &connectiontest.Dialer{}
	registry := connection.NewRegistry(connection.WithDialer(dialer), connection.WithClock(clocktesting.NewFakeClock(baseTime)))
	t.Cleanup(registry.Close)

	ctrl := gomock.NewController(t)
	loader := mocks.NewMockClient(ctrl)
	loader.EXPECT().GetLogs(gomock.Any(), testJobID, DefaultHistoryLimit).
		Return([]jobs.LogEntry{entry(0, "e1"), entry(1, "e2")}, nil)

	m := New(testJobID, loader, registry)
	m.LoadHistory(context.Background(), 0)
	m.LiveTail()

	require.Eventually(t, func() bool { return m.ConnectionStatus() == connection.StatusConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{testJobID}, dialer.Keys())

	dialer.Last().Send([]byte(`{"status":"processing","progress":30,"message":"e3"}`))
	dialer.Last().Send([]byte(`{"status":"completed","progress":100,"message":"e4"}`))

	require.Eventually(t, func() bool { return len(m.Merged()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, messages(m.Merged()))
	assert.Equal(t, jobs.StatusCompleted, m.Current().Status)

	m.Close()
	assert.Equal(t, 0, registry.RefCount(testJobID))
	assert.Equal(t, connection.StatusDisconnected, registry.Status(testJobID))
}
