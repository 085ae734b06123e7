package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/logging"
)

func newStartCommand(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	var drainTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the Autonomy Engine in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewConsole()
			engine, reg, err := buildEngine(flags, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := engine.Initialize(ctx); err != nil {
				return err
			}
			if err := engine.Start(ctx); err != nil {
				return err
			}
			logger.Info("autonomyd: engine started at %s", flags.rootDir)

			var srv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("autonomyd: metrics server: %v", err)
					}
				}()
				logger.Info("autonomyd: metrics listening on %s", metricsAddr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			logger.Info("autonomyd: shutting down")

			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := engine.Drain(drainCtx); err != nil {
				logger.Warn("autonomyd: drain: %v", err)
			}
			if srv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "maximum time to wait for in-flight cycles during shutdown")
	return cmd
}
