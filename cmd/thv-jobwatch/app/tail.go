package app

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	jobwatch "github.com/stacklok/toolhive-jobwatch/internal/app"
	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/stream"
)

var tailCmd = &cobra.Command{
	Use:   "tail JOB_ID",
	Short: "Show a job's logs and follow its live status",
	Long: `Load the job's stored log history, then follow its live status channel and
print each update as it arrives. Finished jobs are printed without following.
The command exits when the job reaches a terminal status or on interrupt.`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher, err := jobwatch.NewWatcherApp(ctx, jobwatch.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build watcher: %w", err)
	}
	defer func() {
		if err := watcher.Stop(defaultGracefulTimeout); err != nil {
			zap.L().Error("Shutdown failed", zap.Error(err))
		}
	}()

	poller := watcher.GetComponents().Poller
	if err := poller.Poll(ctx); err != nil {
		zap.L().Warn("Initial job poll failed, status will show pending", zap.Error(err))
	}
	if _, ok := poller.Job(jobID); !ok {
		zap.L().Warn("Job not found in recent jobs", zap.String("job_id", jobID))
	}

	printer := &tailPrinter{out: cmd.OutOrStdout(), done: make(chan struct{})}

	// Live entries are printed by the reader; the terminal check runs here
	changed := make(chan struct{}, 1)
	m, closeTail := watcher.Tail(ctx, jobID, func(e jobs.LogEntry) {
		printer.entry(e)
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer closeTail()

	if !m.Tailing() {
		printer.finish(m.Current(), m.ConnectionStatus())
		return nil
	}
	printer.status(m.Current(), m.ConnectionStatus())

	// Polls end the command too: the live channel may be down or may never
	// carry the terminal update.
	unsubscribe := watcher.OnSnapshot(func(list []jobs.Job) {
		for _, j := range list {
			if j.ID == jobID && j.Status.IsTerminal() {
				printer.finish(polledView(j), m.ConnectionStatus())
				return
			}
		}
	})
	defer unsubscribe()

	go func() { _ = watcher.Start(ctx) }()

	for {
		select {
		case <-changed:
			if v := m.Current(); v.Status.IsTerminal() {
				printer.finish(v, m.ConnectionStatus())
				return nil
			}
		case <-printer.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// polledView is the view of a job as last reported by the REST API
func polledView(j jobs.Job) stream.View {
	return stream.View{
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.StatusMessage,
		Source:   stream.SourcePolled,
	}
}

// tailPrinter serializes output from the live reader and the poll loop.
// Nothing is printed after the final status line.
type tailPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	finished bool
	done     chan struct{}
}

func (p *tailPrinter) entry(e jobs.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finished {
		_, _ = fmt.Fprintln(p.out, formatEntry(e))
	}
}

func (p *tailPrinter) status(v stream.View, conn connection.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.finished {
		_, _ = fmt.Fprintln(p.out, formatView(v, conn))
	}
}

func (p *tailPrinter) finish(v stream.View, conn connection.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	_, _ = fmt.Fprintln(p.out, formatView(v, conn))
	close(p.done)
}
