package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesturk/bobsled/internal/app"
	"github.com/jamesturk/bobsled/internal/observability"
	"github.com/jamesturk/bobsled/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		metricsHandler, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			return err
		}
		defer shutdownMetrics(context.Background())

		if a.Config.CollectorAddr != "" {
			shutdownTracing, err := observability.InitTracing(ctx, "bobsled", a.Config.CollectorAddr)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())
		}

		// Reap containers left behind by a previous process before
		// accepting requests.
		if removed, err := a.Runner.Cleanup(ctx); err != nil {
			a.Log.Warn("startup cleanup failed", "error", err)
		} else if removed > 0 {
			a.Log.Info("startup cleanup removed orphans", "count", removed)
		}

		// Background poll so timeouts and exits are noticed without an
		// API caller driving UpdateStatus.
		go pollRuns(ctx, a)

		addr := fmt.Sprintf(":%d", a.Config.HTTPPort)
		a.Log.Info("serving", "addr", addr)
		return server.New(addr, a, metricsHandler).Run(ctx)
	},
}

func pollRuns(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.PollOnce(ctx); err != nil {
				a.Log.Warn("run poll failed", "error", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
