package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is written by the poller and live reader while the test reads it
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) lastLine() string {
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	return lines[len(lines)-1]
}

// fakeBackend serves the jobs REST API and, when live is set, the job's
// status channel
type fakeBackend struct {
	polls  atomic.Int32
	status func(poll int32) string
	live   []string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, _ *http.Request) {
		n := f.polls.Add(1)
		_, _ = fmt.Fprintf(w, `[{"id":"job-1","job_type":"fetch","status":%q,"progress":10}]`, f.status(n))
	})
	mux.HandleFunc("/api/jobs/job-1/logs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"timestamp":"2026-01-01T00:00:00Z","level":"info","message":"started"}]`))
	})
	mux.HandleFunc("/ws/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		if f.live == nil {
			http.NotFound(w, r)
			return
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range f.live {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	return mux
}

// useBackend points the CLI at srv with short intervals
func useBackend(t *testing.T, srv *httptest.Server) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := fmt.Sprintf("server:\n  baseURL: %s/api\npolling:\n  interval: 50ms\nstream:\n  reconnectDelay: 50ms\n", srv.URL)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	viper.Set("config", path)
}

func newTestCommand(ctx context.Context, out *lockedBuffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	return cmd
}

func TestRunTail_ExitsWhenPollReportsTerminal(t *testing.T) {
	backend := &fakeBackend{status: func(poll int32) string {
		if poll == 1 {
			return "processing"
		}
		return "completed"
	}}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()
	useBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	require.NoError(t, runTail(newTestCommand(ctx, out), []string{"job-1"}))

	require.NoError(t, ctx.Err(), "tail should return before the deadline")
	assert.Contains(t, out.String(), "started")
	assert.Contains(t, out.String(), "processing")
	assert.Contains(t, out.lastLine(), "completed")
}

func TestRunTail_ExitsOnTerminalLiveUpdate(t *testing.T) {
	backend := &fakeBackend{
		status: func(int32) string { return "processing" },
		live: []string{
			`{"status":"processing","progress":50,"message":"halfway"}`,
			`{"status":"completed","progress":100,"message":"done"}`,
		},
	}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()
	useBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	require.NoError(t, runTail(newTestCommand(ctx, out), []string{"job-1"}))

	require.NoError(t, ctx.Err(), "tail should return before the deadline")
	assert.Contains(t, out.String(), "started")
	assert.Contains(t, out.String(), "halfway")
	assert.Contains(t, out.String(), "done")
	assert.Contains(t, out.lastLine(), "completed 100%")
}

func TestRunTail_FinishedJobIsNotFollowed(t *testing.T) {
	backend := &fakeBackend{
		status: func(int32) string { return "failed" },
		live:   []string{`{"status":"processing","message":"unexpected"}`},
	}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()
	useBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	require.NoError(t, runTail(newTestCommand(ctx, out), []string{"job-1"}))

	assert.Equal(t, int32(1), backend.polls.Load())
	assert.NotContains(t, out.String(), "unexpected")
	assert.Contains(t, out.lastLine(), "failed")
}

func TestRunWatch_PrintsFinishedJobs(t *testing.T) {
	backend := &fakeBackend{status: func(poll int32) string {
		if poll == 1 {
			return "processing"
		}
		return "completed"
	}}
	srv := httptest.NewServer(backend.handler(t))
	defer srv.Close()
	useBackend(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	errCh := make(chan error, 1)
	go func() { errCh <- runWatch(newTestCommand(ctx, out), nil) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "completed")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "fetch job-1")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancellation")
	}
	assert.Equal(t, 1, strings.Count(out.String(), "completed"))
}
