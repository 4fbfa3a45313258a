package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/feature-export/internal/app"
	"github.com/mohammed-shakir/feature-export/internal/core/config"
	"github.com/mohammed-shakir/feature-export/internal/core/observability"
	"github.com/mohammed-shakir/feature-export/internal/core/server"
	"github.com/mohammed-shakir/feature-export/internal/jobs"
	"github.com/mohammed-shakir/feature-export/internal/logger"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// a missing .env is fine; the environment may already be populated
	_ = godotenv.Load()
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "export-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting export server",
		"addr", cfg.Addr,
		"version", Version,
		"column_url", cfg.ColumnExportURL,
		"full_url", cfg.FullExportURL,
		"email_url", cfg.EmailExportURL,
		"mail", cfg.Mail.Enabled(),
		"cache", cfg.Cache.Enabled,
		"jobs", cfg.Jobs.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer a.Close()

	ready := a.Readiness
	if cfg.Jobs.Enabled {
		consumer, err := jobs.New(jobs.Config{
			Brokers:             config.SplitCSV(cfg.Jobs.Brokers),
			Topic:               cfg.Jobs.Topic,
			GroupID:             cfg.Jobs.GroupID,
			InitialOffsetOldest: true,
		}, appLog, &zl, a.Exporter)
		if err != nil {
			appLog.Error("export job consumer setup failed", "err", err)
			return 1
		}
		ready["jobs"] = consumer
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("export job consumer stopped", "err", err)
				stop()
			}
		}()
	}

	h := server.NewHandler(cfg, appLog, a.Exporter, ready)
	if err := server.Run(ctx, cfg, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
