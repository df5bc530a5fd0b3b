package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		startDate, endDate string
		show               int
	)

	cmd := &cobra.Command{
		Use:   "run <script> <search-query>",
		Short: "Run one compiled script in a subprocess",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.resolveArtifact(args[0])
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}

			start, end := dateRange(startDate, endDate)
			outcome, err := exec.Execute(cmd.Context(), path, heal.Params{
				SearchQuery: args[1],
				StartDate:   start,
				EndDate:     end,
			})
			if outcome == nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s in %s\n", mark(outcome.Success), path, outcome.Duration.Round(time.Millisecond))
			if !outcome.Success {
				fmt.Fprintln(w, failStyle.Render(outcome.FailureMessage()))
				if err != nil {
					return err
				}
				return errors.New("script failed")
			}
			if outcome.NoResults {
				fmt.Fprintln(w, mutedStyle.Render("portal reported no results"))
			}
			fmt.Fprintf(w, "%s %d rows", headerStyle.Render("data"), outcome.RowCount)
			if outcome.DataPath != "" {
				fmt.Fprintf(w, " in %s", outcome.DataPath)
			}
			fmt.Fprintln(w)

			if show > 0 && outcome.DataPath != "" {
				records, err := heal.ReadRecords(outcome.DataPath, show)
				if err != nil {
					return err
				}
				printRecords(cmd, records)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "Search window start (MM/DD/YYYY)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Search window end (MM/DD/YYYY)")
	cmd.Flags().IntVar(&show, "show", 0, "Print the first N extracted records")
	return cmd
}

func printRecords(cmd *cobra.Command, records []map[string]string) {
	w := cmd.OutOrStdout()
	for i, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, len(keys))
		for j, k := range keys {
			fields[j] = mutedStyle.Render(k+"=") + rec[k]
		}
		fmt.Fprintf(w, "%3d  %s\n", i+1, strings.Join(fields, "  "))
	}
}
