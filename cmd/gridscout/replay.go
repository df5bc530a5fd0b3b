package main

import (
	"fmt"
	"os"
	"time"

	"github.com/entrhq/gridscout/pkg/browser"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/replay"
	"github.com/entrhq/gridscout/pkg/synth"
	"github.com/spf13/cobra"
)

func newReplayCmd(a *app) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "replay <script> <search-term> <start-date> <end-date>",
		Short: "Execute a compiled script in this process",
		Long: `Execute a compiled script against a fresh browser context. This is the
runtime that run, batch and the test loop launch as a subprocess. Output
markers on stdout report the result; a failure exits non-zero.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read artifact: %w", err)
			}
			plan, err := synth.ParsePlan(src)
			if err != nil {
				return err
			}

			if dataDir == "" {
				dataDir = os.Getenv(heal.DataDirEnv)
			}
			if dataDir == "" {
				dataDir = a.cfg.Paths.DataDir
			}

			opts := a.browserOptions()
			if c := plan.Context; c.ViewportWidth > 0 && c.ViewportHeight > 0 {
				opts.ViewportWidth, opts.ViewportHeight = c.ViewportWidth, c.ViewportHeight
			}
			if plan.Context.NavigationTimeoutMS > 0 {
				opts.NavigationTimeout = time.Duration(plan.Context.NavigationTimeoutMS) * time.Millisecond
			}
			if plan.Context.ElementTimeoutMS > 0 {
				opts.ElementTimeout = time.Duration(plan.Context.ElementTimeoutMS) * time.Millisecond
			}

			driver, err := browser.NewPlaywrightDriver(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := driver.Close(); cerr != nil {
					a.logger.Warnf("failed to close browser: %v", cerr)
				}
			}()

			runner := replay.New(driver, dataDir,
				replay.WithOutput(cmd.OutOrStdout()),
				replay.WithLogger(a.logger.With("replay")),
			)
			_, err = runner.Run(cmd.Context(), plan, replay.Args{
				SearchTerm: args[1],
				StartDate:  args[2],
				EndDate:    args[3],
			})
			return err
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Output directory (default $"+heal.DataDirEnv+", then config)")
	return cmd
}
