package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/feature-export/internal/core/config"
	"github.com/mohammed-shakir/feature-export/internal/core/health"
	middleware "github.com/mohammed-shakir/feature-export/internal/core/middleware"
	"github.com/mohammed-shakir/feature-export/internal/core/router"
)

// NewHandler wires the export routes, probes and metrics.
func NewHandler(cfg config.Config, logger *slog.Logger, ex router.Exporter, ready map[string]health.ReadinessReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ready))
	if cfg.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Get(router.RouteIndex, router.Index(ex))
	r.Post(router.RouteColumns, router.HandleColumnExport(logger, ex))
	r.Get(router.RouteFull, router.HandleFullExport(logger, ex))
	r.Post(router.RouteEmail, router.HandleEmailExport(logger, ex))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// full exports page through the whole layer before the first byte is written
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
