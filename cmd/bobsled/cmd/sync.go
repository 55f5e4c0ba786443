package cmd

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replace stored task definitions from the task file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		if err := syncTasks(ctx, a); err != nil {
			return err
		}

		tasks, err := a.Storage.GetTasks(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("synced %d tasks from %s\n", len(tasks), a.Config.TasksFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
