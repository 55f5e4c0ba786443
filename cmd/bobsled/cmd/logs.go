package cmd

import (
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "Print the logs of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		// Refreshing with updateLogs persists a current snapshot for
		// live runs; terminal runs keep their stored logs.
		run, err := a.Runner.UpdateStatus(ctx, args[0], true)
		if err != nil {
			return err
		}
		cmd.Print(run.Logs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
