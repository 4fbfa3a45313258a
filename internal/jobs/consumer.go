package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	obs "github.com/mohammed-shakir/feature-export/internal/core/observability"
	"github.com/mohammed-shakir/feature-export/internal/export"
	mylog "github.com/mohammed-shakir/feature-export/internal/logger"
)

type Runner interface {
	ExportAndEmail(ctx context.Context, recipient string) (export.Artifact, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	run    Runner
	seen   *lru.Cache[string, struct{}]

	mu         sync.Mutex
	partitions []int32
}

func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, run Runner) (*Consumer, error) {
	if run == nil {
		return nil, errors.New("jobs: missing export runner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	seen, err := lru.New[string, struct{}](cfg.SeenJobs)
	if err != nil {
		return nil, fmt.Errorf("jobs: seen set: %w", err)
	}
	base := mylog.WithComponent(context.Background(), "export_jobs")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   mylog.FromContext(base, zl),
		run:    run,
		seen:   seen,
	}, nil
}

// Readiness reports whether the group has assigned this member any partitions.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.partitions) > 0, append([]int32(nil), c.partitions...)
}

func (c *Consumer) setClaims(claims map[string][]int32) {
	parts := append([]int32(nil), claims[c.cfg.Topic]...)
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	c.mu.Lock()
	c.partitions = parts
	c.mu.Unlock()
}

func (c *Consumer) clearClaims() {
	c.mu.Lock()
	c.partitions = nil
	c.mu.Unlock()
}

// Start joins the consumer group and blocks until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, onSetup: c.setClaims, onClean: c.clearClaims}

	c.logger.Info("export job consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if ctx.Err() != nil {
			c.logger.Info("export job consumer shutting down")
			return nil
		}
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.zlog.Error().Err(err).
				Strs("brokers", c.cfg.Brokers).
				Str("topic", c.cfg.Topic).
				Msg("kafka consumer error")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// ProcessOne handles a single job message. A nil return marks the message;
// only retryable export failures return an error.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.poison(ctx, msg, fmt.Errorf("%w: decode: %v", ErrInvalidEvent, err))
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.poison(ctx, msg, err)
		return nil
	}
	if c.seen.Contains(ev.JobID) {
		obs.IncExportJob("duplicate")
		c.logger.Debug("export job already done", "job_id", ev.JobID)
		return nil
	}

	ctx = mylog.WithRequestID(ctx, ev.JobID)
	art, err := c.run.ExportAndEmail(ctx, ev.Recipient)
	if err != nil {
		if !retryable(err) {
			obs.IncExportJob("error")
			c.seen.Add(ev.JobID, struct{}{})
			mylog.FromContext(ctx, c.zlog).Error().Err(err).
				Str("job_id", ev.JobID).
				Str("code", exporterr.Code(err)).
				Msg("export job dropped")
			return nil
		}
		obs.IncExportJob("retry")
		mylog.FromContext(ctx, c.zlog).Warn().Err(err).
			Str("job_id", ev.JobID).
			Dur("backoff", c.cfg.RetryBackoff).
			Msg("export job will be retried")
		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.RetryBackoff):
		}
		return fmt.Errorf("job %s: %w", ev.JobID, err)
	}

	c.seen.Add(ev.JobID, struct{}{})
	obs.IncExportJob("done")
	mylog.FromContext(ctx, c.zlog).Info().
		Str("job_id", ev.JobID).
		Str("export_id", art.ID).
		Int("rows", art.Rows).
		Msg("export job done")
	return nil
}

func (c *Consumer) poison(ctx context.Context, msg *sarama.ConsumerMessage, err error) {
	obs.IncExportJob("invalid")
	mylog.FromContext(ctx, c.zlog).Warn().Err(err).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("export job skipped")
}

// retryable reports whether redelivery could change the outcome.
func retryable(err error) bool {
	switch exporterr.Code(err) {
	case "upstream_failed", "delivery_failed", "internal":
		return true
	default:
		return false
	}
}
