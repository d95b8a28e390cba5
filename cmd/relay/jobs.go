package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kehao95/relay/internal/config"
	"github.com/kehao95/relay/internal/tape"
)

func newJobsCmd(cfg func() *config.Config) *cobra.Command {
	var asJSON bool
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs recorded in the tape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := tape.ReadTapeFile(cfg().TapePath())
			if err != nil {
				return err
			}
			if limit > 0 && len(summary.Jobs) > limit {
				summary.Jobs = summary.Jobs[len(summary.Jobs)-limit:]
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return printJobs(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show only the most recent n jobs (0 for all)")
	return cmd
}

func printJobs(w io.Writer, s *tape.Summary) error {
	if len(s.Jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tEXIT\tDURATION\tCOMMAND")
	for _, j := range s.Jobs {
		status, exit, dur := "running", "-", "-"
		if j.Outcome != nil {
			status = j.Outcome.Status
			if j.Outcome.ExitCode != nil {
				exit = fmt.Sprint(*j.Outcome.ExitCode)
			}
			dur = (time.Duration(j.Outcome.DurationMs) * time.Millisecond).String()
		}
		if j.Backgrounded {
			status += " (bg)"
		}
		started := "-"
		if j.StartedAt > 0 {
			started = time.UnixMilli(j.StartedAt).Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, started, status, exit, dur, oneLine(j.Command, 60))
	}
	return tw.Flush()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
