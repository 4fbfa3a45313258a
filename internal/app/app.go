// Package app assembles the export service from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/feature-export/internal/cache/pagecache"
	"github.com/mohammed-shakir/feature-export/internal/cache/redisstore"
	"github.com/mohammed-shakir/feature-export/internal/core/config"
	"github.com/mohammed-shakir/feature-export/internal/core/executor"
	"github.com/mohammed-shakir/feature-export/internal/core/health"
	"github.com/mohammed-shakir/feature-export/internal/core/httpclient"
	"github.com/mohammed-shakir/feature-export/internal/export"
	"github.com/mohammed-shakir/feature-export/internal/mail"
	h3mapper "github.com/mohammed-shakir/feature-export/internal/mapper/h3"
	"github.com/mohammed-shakir/feature-export/internal/sheet"
)

type App struct {
	Exporter *export.Service
	// Readiness holds probes for optional backends, keyed by component name.
	Readiness map[string]health.ReadinessReporter
	closers   []func() error
}

// Close releases connections opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// Build validates cfg and wires the executor, optional page cache, optional
// mailer and H3 column into one export service.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	sheet.Init(sheet.Defaults{TitleSpan: cfg.TitleSpan})

	a := &App{Readiness: map[string]health.ReadinessReporter{}}
	var execOpts []executor.Option
	if cfg.Cache.Enabled {
		var ropts []redisstore.Option
		if t := cfg.Cache.OpTimeout; t > 0 {
			ropts = append(ropts, redisstore.WithDialTimeout(4*t), redisstore.WithReadTimeout(t))
		}
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr, ropts...)
		if err != nil {
			// page cache is optional; run with L1 only
			logger.Warn("redis unavailable, page cache is in-process only", "addr", cfg.Cache.RedisAddr, "err", err)
			execOpts = append(execOpts, executor.WithCache(pagecache.New(logger, nil, pageCfg(cfg))))
		} else {
			a.closers = append(a.closers, rc.Close)
			a.Readiness["redis"] = redisProbe{c: rc}
			execOpts = append(execOpts, executor.WithCache(pagecache.New(logger, rc, pageCfg(cfg))))
		}
	}
	exec := executor.New(logger, httpclient.NewOutbound(cfg.UpstreamTimeout), execOpts...)

	mapper, err := h3mapper.New(cfg.H3Res)
	if err != nil {
		return nil, fmt.Errorf("h3 mapper: %w", err)
	}
	logger.Debug("h3 column enabled", "res", mapper.Res())
	opts := []export.Option{export.WithCellIndexer(mapper)}

	if cfg.Mail.Enabled() {
		sender, err := mail.New(logger, mail.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, export.WithSender(sender))
	}

	a.Exporter = export.New(logger, exec, export.Config{
		ColumnURL:   cfg.ColumnExportURL,
		FullURL:     cfg.FullExportURL,
		EmailURL:    cfg.EmailExportURL,
		FullColumns: cfg.FullColumns,
		Title:       cfg.ReportTitle,
		Mail: export.MailDefaults{
			DefaultTo: cfg.Mail.DefaultTo,
			Subject:   cfg.Mail.Subject,
			Body:      cfg.Mail.Body,
		},
	}, opts...)
	return a, nil
}

func pageCfg(cfg config.Config) pagecache.Config {
	return pagecache.Config{L1Size: cfg.Cache.L1Size, TTL: cfg.Cache.TTL, OpTimeout: cfg.Cache.OpTimeout}
}

type redisProbe struct {
	c *redisstore.Client
}

func (p redisProbe) Readiness() (bool, []int32) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.c.Ping(ctx) == nil, nil
}
