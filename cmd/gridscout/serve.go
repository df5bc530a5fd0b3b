package main

import (
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			reg := metrics.NewRegistry()
			m := metrics.MustNewMetrics(reg)
			p, err := a.pipeline(m)
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}

			s := server.New(server.Config{
				Addr:                 a.cfg.Server.Addr,
				EnableCORS:           a.cfg.Server.EnableCORS,
				Pipeline:             p,
				Catalog:              a.catalog(),
				Tester:               exec,
				DefaultMaxConcurrent: a.cfg.Batch.MaxConcurrent,
				Registry:             reg,
				Metrics:              m,
				Logger:               a.logger.With("server"),
			})
			return s.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
