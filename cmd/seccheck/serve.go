package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suche/seccheck/pkg/logging"
	"github.com/suche/seccheck/pkg/ruleset"
	"github.com/suche/seccheck/pkg/scanner"
	"github.com/suche/seccheck/pkg/serve"
	"github.com/suche/seccheck/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as streaming server for git hook integration",
	Long: `Run seccheck as a long-lived streaming server that accepts requests
via stdin and writes responses to stdout using NDJSON format.

The ruleset is loaded once in the background and, with ruleset.watch set,
reloaded whenever the ruleset file changes. The process serves requests until
stdin closes or SIGTERM is received. With metrics.addr set, Prometheus metrics
are exposed on /metrics and readiness on /healthz.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(logging.OutputStderr)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	provider := newProvider(cfg, logger, metrics)
	provider.Start(ctx)
	if cfg.Ruleset.Watch && cfg.Ruleset.Path != "" {
		if err := provider.Watch(ctx, cfg.Ruleset.Path, ruleset.DefaultDebounce); err != nil {
			logger.Warn("ruleset hot reload disabled", zap.Error(err))
		}
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newRouter(reg, provider),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.String("addr", cfg.Metrics.Addr), zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
	}

	core := scanner.New(provider, cfg.ScannerConfig(), scanner.WithLogger(logger), scanner.WithMetrics(metrics))
	srv := serve.NewServer(core, provider, cmd.InOrStdin(), cmd.OutOrStdout(), serve.WithLogger(logger))
	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newRouter serves Prometheus metrics and a readiness check that fails until
// the first ruleset is published.
func newRouter(reg *prometheus.Registry, rules scanner.RulesetSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if rules.Current() == nil {
			http.Error(w, "ruleset not loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
