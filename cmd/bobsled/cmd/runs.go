package cmd

import (
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jamesturk/bobsled/internal/storage"
)

var (
	runsStatuses []string
	runsTask     string
	runsLatest   int
	runsUpdate   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, optionally refreshing their status first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		filter := storage.RunFilter{TaskName: runsTask, Latest: runsLatest}
		for _, s := range runsStatuses {
			filter.Statuses = append(filter.Statuses, storage.Status(s))
		}

		runs, err := a.Runner.GetRuns(ctx, filter, runsUpdate)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer w.Flush()
		w.Write([]byte("UUID\tTASK\tSTATUS\tSTART\tEND\n"))
		for _, r := range runs {
			end := ""
			if r.End != nil {
				end = r.End.Format("2006-01-02 15:04:05")
			}
			w.Write([]byte(r.UUID + "\t" + r.Task + "\t" + string(r.Status) + "\t" +
				r.Start.Format("2006-01-02 15:04:05") + "\t" + end + "\n"))
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringArrayVar(&runsStatuses, "status", nil, "filter by status (repeatable)")
	runsCmd.Flags().StringVar(&runsTask, "task", "", "filter by task name")
	runsCmd.Flags().IntVar(&runsLatest, "latest", 0, "only the N most recent runs")
	runsCmd.Flags().BoolVar(&runsUpdate, "update", false, "refresh each run against the backend first")
	rootCmd.AddCommand(runsCmd)
}
