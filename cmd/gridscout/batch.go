package main

import (
	"fmt"

	"github.com/entrhq/gridscout/pkg/batch"
	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/spf13/cobra"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		startDate, endDate string
		exclude            []string
		allVersions        bool
		maxConcurrent      int
	)

	cmd := &cobra.Command{
		Use:   "batch <search-query> [pattern...]",
		Short: "Run many compiled scripts concurrently",
		Long: `Run every script matching the glob patterns (all scripts when none are
given) with the same search arguments. Only the latest version of each site
runs unless --all-versions is set. --max-concurrent 0 means unlimited.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := catalog.NewMatcher(args[1:], exclude)
			if err != nil {
				return err
			}
			entries, err := a.catalog().Select(m, !allVersions)
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-concurrent") {
				maxConcurrent = a.cfg.Batch.MaxConcurrent
			}

			start, end := dateRange(startDate, endDate)
			out := cmd.OutOrStdout()
			runner := batch.NewRunner(exec, batch.WithLogger(a.logger.With("batch")))
			job, err := runner.Run(cmd.Context(), batch.Request{
				Artifacts:     catalog.Paths(entries),
				MaxConcurrent: maxConcurrent,
				Params:        heal.Params{SearchQuery: args[0], StartDate: start, EndDate: end},
			}, batch.SinkFunc(func(e *types.Event) error {
				printEvent(out, e)
				return nil
			}))
			if err != nil {
				return err
			}
			if s := job.Summary(); s.Failed > 0 {
				return fmt.Errorf("%d of %d scripts failed", s.Failed, s.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "Search window start (MM/DD/YYYY)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Search window end (MM/DD/YYYY)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns of scripts to skip")
	cmd.Flags().BoolVar(&allVersions, "all-versions", false, "Run every version, not only the latest per site")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Maximum scripts in flight (0 = unlimited, default from config)")
	return cmd
}
