package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"ferroci/internal/core"
	"ferroci/internal/metrics"
	"ferroci/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept pipelines over HTTP and run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector, err := metrics.New(reg)
			if err != nil {
				return err
			}

			runner, err := a.newRunner(cfg)
			if err != nil {
				return usageError(err)
			}
			runner.Strict = strict
			runner.Observers = []core.Observer{collector}

			return server.New(runner, reg, a.logger).ListenAndServe(cmd.Context(), cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config server.addr)")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject pipelines with unknown dependencies or cycles")
	return cmd
}
