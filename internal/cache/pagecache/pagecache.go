// Package pagecache keeps raw upstream query pages in an in-process LRU backed by Redis.
package pagecache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/feature-export/internal/core/observability"
)

// Store is the shared second tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Cache struct {
	logger    *slog.Logger
	l1        *expirable.LRU[string, []byte]
	l2        Store
	ttl       time.Duration
	opTimeout time.Duration
}

type Config struct {
	L1Size    int
	TTL       time.Duration
	OpTimeout time.Duration
}

// New builds a cache; l2 may be nil for an in-process only cache.
func New(logger *slog.Logger, l2 Store, cfg Config) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Cache{
		logger:    logger,
		l1:        expirable.NewLRU[string, []byte](cfg.L1Size, nil, cfg.TTL),
		l2:        l2,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
	}
}

// Get never fails; redis errors count as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if b, ok := c.l1.Get(key); ok {
		observability.ObservePageCache("l1", true)
		return b, true
	}
	observability.ObservePageCache("l1", false)
	if c.l2 == nil {
		return nil, false
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	b, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.logger.Warn("page cache read failed", "key", key, "err", err)
		observability.ObservePageCache("redis", false)
		return nil, false
	}
	observability.ObservePageCache("redis", ok)
	if ok {
		c.l1.Add(key, b)
	}
	return b, ok
}

func (c *Cache) Put(ctx context.Context, key string, body []byte) {
	c.l1.Add(key, body)
	if c.l2 == nil {
		return
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.l2.Set(ctx, key, body, c.ttl); err != nil {
		c.logger.Warn("page cache write failed", "key", key, "err", err)
	}
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}
