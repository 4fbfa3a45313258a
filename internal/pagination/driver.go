// Package pagination walks an offset-paged query until the server runs dry.
package pagination

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
	"github.com/mohammed-shakir/feature-export/internal/core/observability"
)

type PageFetcher interface {
	FetchPage(ctx context.Context, q model.QueryRequest) (*model.FeatureResponse, error)
}

// Result is the concatenation of every page in server order.
type Result struct {
	Fields   []model.Field
	Features []model.Feature
	Pages    int
}

type Option func(*Driver)

// WithMaxPages caps a single walk. The default is unbounded.
func WithMaxPages(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxPages = n
		}
	}
}

type Driver struct {
	fetch    PageFetcher
	logger   *slog.Logger
	maxPages int
}

func New(logger *slog.Logger, fetch PageFetcher, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{fetch: fetch, logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FetchAll requests pages at offsets 0, n0, n0+n1, ... and stops on the first
// empty page. Any page failure aborts the walk and nothing is returned.
func (d *Driver) FetchAll(ctx context.Context, q model.QueryRequest) (Result, error) {
	var res Result
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("pagination at offset %d: %w", offset, err)
		}
		if d.maxPages > 0 && res.Pages >= d.maxPages {
			return Result{}, &exporterr.PreconditionError{
				Reason: fmt.Sprintf("pagination exceeded %d pages", d.maxPages),
			}
		}

		page, err := d.fetch.FetchPage(ctx, q.WithOffset(offset))
		observability.IncUpstreamPage(err)
		if err != nil {
			d.logger.Warn("page fetch failed", "offset", offset, "pages", res.Pages, "err", err)
			return Result{}, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		res.Pages++
		if res.Fields == nil && len(page.Fields) > 0 {
			res.Fields = page.Fields
		}
		if len(page.Features) == 0 {
			break
		}
		res.Features = append(res.Features, page.Features...)
		offset += len(page.Features)
	}
	d.logger.Debug("pagination done", "records", len(res.Features), "pages", res.Pages)
	return res, nil
}
