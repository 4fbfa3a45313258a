// Package executor issues feature-server queries and decodes the returned pages.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/feature-export/internal/cache/keys"
	"github.com/mohammed-shakir/feature-export/internal/core/arcgis"
	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
	"github.com/mohammed-shakir/feature-export/internal/core/observability"
)

const maxErrorBody = 8 << 10

type Interface interface {
	FetchPage(ctx context.Context, q model.QueryRequest) (*model.FeatureResponse, error)
}

// PageCache stores raw successful response bodies.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, body []byte)
}

type Option func(*Executor)

func WithCache(c PageCache) Option {
	return func(e *Executor) { e.cache = c }
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	cache    PageCache
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	e := &Executor{
		logger:   logger,
		client:   client,
		startNow: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FetchPage performs one query. It never retries.
func (e *Executor) FetchPage(ctx context.Context, q model.QueryRequest) (*model.FeatureResponse, error) {
	if q.Offset < 0 {
		return nil, &exporterr.PreconditionError{Reason: fmt.Sprintf("negative offset %d", q.Offset)}
	}
	u, err := arcgis.QueryURL(q)
	if err != nil || u.Host == "" {
		return nil, &exporterr.PreconditionError{Reason: fmt.Sprintf("invalid endpoint %q", q.Endpoint)}
	}
	endpoint := arcgis.QueryEndpoint(q.Endpoint)

	var cacheKey string
	if e.cache != nil {
		cacheKey = keys.PageKey(endpoint, u.Query())
		if body, ok := e.cache.Get(ctx, cacheKey); ok {
			if fr, err := decode(endpoint, body); err == nil {
				e.logger.Debug("page served from cache", "endpoint", endpoint, "offset", q.Offset)
				return fr, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := e.startNow()
	resp, err := e.client.Do(req)
	observability.ObserveUpstreamLatency(u.Host, time.Since(start).Seconds())
	if err != nil {
		return nil, &exporterr.TransportError{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &exporterr.TransportError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(b)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &exporterr.TransportError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	fr, err := decode(endpoint, body)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("page fetched",
		"endpoint", endpoint,
		"offset", q.Offset,
		"features", len(fr.Features),
		"duration", time.Since(start).String())

	if e.cache != nil {
		e.cache.Put(ctx, cacheKey, body)
	}
	return fr, nil
}

type envelope struct {
	model.FeatureResponse
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(endpoint string, body []byte) (*model.FeatureResponse, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &exporterr.ParseError{Endpoint: endpoint, Err: err}
	}
	if env.Error != nil {
		return nil, &exporterr.ParseError{
			Endpoint:   endpoint,
			ServerCode: env.Error.Code,
			Err:        fmt.Errorf("server error %d: %s", env.Error.Code, env.Error.Message),
		}
	}
	fr := env.FeatureResponse
	return &fr, nil
}
