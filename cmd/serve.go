package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safkaty/safkaty/internal/api"
	"github.com/safkaty/safkaty/internal/monitoring"
	"github.com/safkaty/safkaty/internal/runner"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tender API with a background search runner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := monitoring.NewMetrics(reg)

		r := runner.New(newOrchestrator(metrics), searchOptions())
		r.OnStateChange(metrics.RunnerStateChanged)

		server := api.New(api.Config{
			Store:             st,
			Runner:            r,
			Context:           ctx,
			DefaultMaxResults: cfg.Search.MaxResults,
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			Metrics:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(monitoring.NewCollector(st), metrics, cfg.Monitoring)
		poll := time.Duration(cfg.Runner.PollIntervalMs) * time.Millisecond

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			r.Cancel()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			err := r.PollLoop(gctx, poll, func(d runner.Delivery) {
				metrics.RunDelivered(d)
				server.Deliver(d)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
