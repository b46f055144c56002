package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolharness/metrics"
)

func newMetricsCmd(opts *cliOptions) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize recorded executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.settings.MetricsPath()
			if path == "" {
				return errors.New("metrics_db is not configured; records are kept in memory only")
			}
			store, err := metrics.OpenStore(path, opts.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			sum, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			records, err := store.Recent(cmd.Context(), recent)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"summary": sum, "recent": records})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "runs: %d  succeeded: %d  failed: %d  timed out: %d\n",
				sum.TotalRuns, sum.Successful, sum.Failed, sum.TimedOut)
			fmt.Fprintf(out, "success rate: %.1f%%  avg time: %.1fms  tool calls: %d\n",
				sum.SuccessRate*100, sum.AvgExecutionMs, sum.ToolCalls)
			if len(records) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATE\tKIND\tMS\tTOOL CALLS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.State, r.Kind, r.ExecutionMs, r.ToolCalls)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent runs to list")
	return cmd
}
