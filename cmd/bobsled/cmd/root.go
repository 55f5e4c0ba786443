// Package cmd implements the bobsled command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesturk/bobsled/internal/app"
	"github.com/jamesturk/bobsled/internal/config"
	"github.com/jamesturk/bobsled/internal/logger"
	"github.com/jamesturk/bobsled/internal/taskfile"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bobsled",
	Short: "bobsled runs containerized tasks and tracks their lifecycle",
	Long: `bobsled is a task-execution orchestrator. It launches named,
containerized tasks on a local Docker daemon or a Kubernetes cluster,
tracks each run through its lifecycle, enforces timeouts and
single-run-per-task execution, and persists run history.

Common workflows:

  Sync task definitions into storage:
    bobsled sync --tasks tasks.yml

  Launch a task:
    bobsled run hello-world

  Inspect runs:
    bobsled runs --status running
    bobsled logs <run-id>

  Stop a run or clean up orphaned containers:
    bobsled stop <run-id>
    bobsled cleanup

Configuration comes from environment variables with the BOBSLED prefix
(BOBSLED_STORAGE, BOBSLED_RUNNER, BOBSLED_TASKS_FILE, ...) or a config
file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bobsled.yaml)")
}

// newApp builds the application context and, mirroring first-boot
// behavior, syncs task definitions from the task file when storage has
// none yet.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, logger.New())
	if err != nil {
		return nil, err
	}

	tasks, err := a.Storage.GetTasks(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		if _, err := os.Stat(cfg.TasksFile); err == nil {
			if err := syncTasks(ctx, a); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// syncTasks loads the task file, replaces the stored task set, and
// re-registers cron triggers.
func syncTasks(ctx context.Context, a *app.App) error {
	tasks, err := taskfile.Load(a.Config.TasksFile)
	if err != nil {
		return err
	}
	if err := a.Storage.SetTasks(ctx, tasks); err != nil {
		return fmt.Errorf("failed to store tasks: %w", err)
	}
	return a.Runner.RegisterCrons(ctx, tasks)
}
