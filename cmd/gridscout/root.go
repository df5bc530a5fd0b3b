package main

import (
	"fmt"
	"time"

	"github.com/entrhq/gridscout/pkg/config"
	"github.com/entrhq/gridscout/pkg/logging"
	"github.com/entrhq/gridscout/pkg/server"
	"github.com/spf13/cobra"
)

const dateLayout = "01/02/2006"

// app carries the configuration shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "gridscout",
		Short: "Explore records search portals and compile replayable extraction scripts",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Minimum log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newExploreCmd(a),
		newRunCmd(a),
		newBatchCmd(a),
		newReplayCmd(a),
		newServeCmd(a),
		newScriptsCmd(a),
		newInspectCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the config file, applies flag overrides and validates.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))

	a.cfg = cfg
	a.logger = logging.MustLogger("cli")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gridscout version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "gridscout v%s\n", version)
			return nil
		},
	}
}

// dateRange fills in the default search window.
func dateRange(start, end string) (string, string) {
	if start == "" {
		start = server.DefaultStartDate
	}
	if end == "" {
		end = time.Now().Format(dateLayout)
	}
	return start, end
}
