package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	jobwatch "github.com/stacklok/toolhive-jobwatch/internal/app"
	"github.com/stacklok/toolhive-jobwatch/internal/notify"
)

const defaultGracefulTimeout = 30 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the job list and report jobs that finish",
	Long: `Poll the job list at the configured interval and print a line whenever a job
moves into one of the configured outcome statuses (completed and failed by
default). Jobs already finished when watching starts are not reported.

With --address the watcher also serves /health, /readiness, /jobs and, when
Prometheus metrics are enabled, /metrics.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("address", "", "Address for the status server (disabled when empty)")
	if err := viper.BindPFlag("address", watchCmd.Flags().Lookup("address")); err != nil {
		zap.L().Fatal("Failed to bind address flag", zap.Error(err))
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []jobwatch.WatcherAppOptions{jobwatch.WithConfig(cfg)}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, jobwatch.WithAddress(address))
	}

	watcher, err := jobwatch.NewWatcherApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build watcher: %w", err)
	}

	out := cmd.OutOrStdout()
	unsubscribe := watcher.OnEvent(func(e notify.Event) {
		_, _ = fmt.Fprintln(out, formatEvent(e))
	})
	defer unsubscribe()

	zap.L().Info("Watching jobs",
		zap.String("base_url", cfg.GetBaseURL()),
		zap.Duration("interval", cfg.GetPollInterval()))

	startErr := watcher.Start(ctx)

	if err := watcher.Stop(defaultGracefulTimeout); err != nil {
		zap.L().Error("Shutdown failed", zap.Error(err))
	}
	if startErr != nil && ctx.Err() == nil {
		return startErr
	}
	return nil
}

// contextOrBackground guards against commands executed without a context
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
