package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesturk/bobsled/internal/runner"
	"github.com/jamesturk/bobsled/internal/storage"
)

var runWait bool

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Launch a new run of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		task, err := a.Storage.GetTask(ctx, name)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("unknown task %q", name)
		}
		if !task.Enabled {
			return fmt.Errorf("task %q is disabled", name)
		}

		run, err := a.Runner.RunTask(ctx, task)
		if errors.Is(err, runner.ErrAlreadyRunning) {
			return fmt.Errorf("task %q already has an active run", name)
		}
		if err != nil {
			return err
		}
		cmd.Printf("started run %s for task %s\n", run.UUID, name)

		if !runWait {
			return nil
		}
		for {
			time.Sleep(time.Second)
			run, err = a.Runner.UpdateStatus(ctx, run.UUID, false)
			if err != nil {
				return err
			}
			if run.Status.Terminal() {
				break
			}
		}
		cmd.Printf("run %s finished: %s", run.UUID, run.Status)
		if run.ExitCode != nil {
			cmd.Printf(" (exit code %d)", *run.ExitCode)
		}
		cmd.Println()
		if run.Status != storage.StatusSuccess {
			return fmt.Errorf("run did not succeed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runWait, "wait", false, "poll until the run reaches a terminal state")
	rootCmd.AddCommand(runCmd)
}
