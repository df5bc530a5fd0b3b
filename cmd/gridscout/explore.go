package main

import (
	"fmt"

	"github.com/entrhq/gridscout/pkg/config"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/entrhq/gridscout/pkg/workflow"
	"github.com/spf13/cobra"
)

func newExploreCmd(a *app) *cobra.Command {
	var (
		startDate, endDate string
		artifactsDir       string
		oracleKind         string
		headful            bool
	)

	cmd := &cobra.Command{
		Use:   "explore <url> <search-query>",
		Short: "Explore a portal, compile an extraction script and test it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifactsDir != "" {
				a.cfg.Paths.ArtifactsDir = artifactsDir
			}
			if oracleKind != "" {
				a.cfg.Oracle.Kind = config.OracleKind(oracleKind)
				if err := a.cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}
			if headful {
				a.cfg.Browser.Headless = false
			}

			p, err := a.pipeline(nil)
			if err != nil {
				return err
			}
			start, end := dateRange(startDate, endDate)
			out := cmd.OutOrStdout()
			res, err := p.Run(cmd.Context(), workflow.Request{
				URL:         args[0],
				SearchQuery: args[1],
				StartDate:   start,
				EndDate:     end,
			}, func(e *types.Event) { printEvent(out, e) })

			printPipelineResult(cmd, res)
			return err
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "Search window start (MM/DD/YYYY, default 01/01/1980)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Search window end (MM/DD/YYYY, default today)")
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "", "Directory for compiled scripts (overrides config)")
	cmd.Flags().StringVar(&oracleKind, "oracle", "", "Decision oracle: llm or rules (overrides config)")
	cmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	return cmd
}

func printPipelineResult(cmd *cobra.Command, res *workflow.Result) {
	if res == nil {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("status"), statusStyle.Render(string(res.Status)))
	if res.SessionID != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("session"), res.SessionID)
	}
	if res.Artifact != nil {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("script"), res.Artifact.Path)
	}
	if res.Heal != nil {
		fmt.Fprintf(w, "%s %d\n", headerStyle.Render("test runs"), len(res.Heal.Outcomes))
	}
	if res.DataPath != "" {
		fmt.Fprintf(w, "%s %d rows in %s\n", headerStyle.Render("data"), res.RowCount, res.DataPath)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("error"), failStyle.Render(res.Err.Error()))
	}
}
