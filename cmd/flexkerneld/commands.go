package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"flexkernel/internal/config"
	"flexkernel/internal/kernellog"
	"flexkernel/internal/metrics"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "run [scenario]",
		Short:     "Run one end-to-end kernel scenario and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scenarioNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			switch args[0] {
			case "priority-preemption":
				return RunPriorityPreemption(cfg, nil)
			case "queue-handoff":
				received, err := RunQueueHandoff(cfg, nil)
				fmt.Printf("received: %v\n", received)
				return err
			default:
				return fmt.Errorf("unknown scenario %q (want one of %v)", args[0], scenarioNames)
			}
		},
	}
	return cmd
}

func newServeCmd(cfgFile *string) *cobra.Command {
	var addr string
	var scenario string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scenario while exporting Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			reg := prometheus.NewRegistry()
			collectors := metrics.NewCollectors(reg)
			collectors.HeapTotal.Set(float64(cfg.HeapSizeBytes))

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: addr, Handler: mux}

			if err := bindAndServe(cmd.Context(), srv); err != nil {
				return err
			}
			defer srv.Shutdown(context.Background())

			kernellog.Info().Str("addr", addr).Str("scenario", scenario).Msg("serving metrics")

			switch scenario {
			case "priority-preemption":
				return RunPriorityPreemption(cfg, collectors)
			case "queue-handoff":
				_, err := RunQueueHandoff(cfg, collectors)
				return err
			default:
				return fmt.Errorf("unknown scenario %q (want one of %v)", scenario, scenarioNames)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "metrics listen address")
	cmd.Flags().StringVar(&scenario, "scenario", "priority-preemption", "scenario to run while serving")
	return cmd
}

// bindAndServe starts srv's listener with an exponential-backoff bind
// rather than a tight re-bind loop: a port momentarily held by a prior
// run's TIME_WAIT socket should not fail the whole process immediately.
func bindAndServe(ctx context.Context, srv *http.Server) error {
	var ln net.Listener
	op := func() error {
		l, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return err
		}
		ln = l
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("binding metrics listener: %w", err)
	}

	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}
