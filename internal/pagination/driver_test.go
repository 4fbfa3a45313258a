package pagination

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

type pagesFake struct {
	sizes   []int
	failAt  int
	offsets []int
	calls   int
}

func (p *pagesFake) FetchPage(_ context.Context, q model.QueryRequest) (*model.FeatureResponse, error) {
	p.calls++
	if !q.Paged {
		return nil, errors.New("query not paged")
	}
	p.offsets = append(p.offsets, q.Offset)
	if p.failAt == p.calls {
		return nil, &exporterr.TransportError{Endpoint: q.Endpoint, Status: 500}
	}
	n := 0
	if idx := p.calls - 1; idx < len(p.sizes) {
		n = p.sizes[idx]
	}
	resp := &model.FeatureResponse{Fields: []model.Field{{Name: "REQUEST_NO"}}}
	for i := 0; i < n; i++ {
		resp.Features = append(resp.Features, model.Feature{
			Attributes: model.Attributes{RequestNo: int64(q.Offset + i)},
		})
	}
	return resp, nil
}

func TestFetchAll_AdvancesByPageLength(t *testing.T) {
	f := &pagesFake{sizes: []int{100, 100, 37, 0}}
	res, err := New(nil, f).FetchAll(context.Background(), model.QueryRequest{Endpoint: "https://h/q"})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Features) != 237 {
		t.Fatalf("records=%d want 237", len(res.Features))
	}
	if want := []int{0, 100, 200, 237}; !reflect.DeepEqual(f.offsets, want) {
		t.Fatalf("offsets=%v want %v", f.offsets, want)
	}
	if res.Pages != 4 {
		t.Fatalf("pages=%d", res.Pages)
	}
	// Server order is preserved.
	for i, ft := range res.Features {
		if ft.Attributes.RequestNo != int64(i) {
			t.Fatalf("record %d has REQUEST_NO %d", i, ft.Attributes.RequestNo)
		}
	}
	if len(res.Fields) != 1 {
		t.Fatalf("fields=%v", res.Fields)
	}
}

func TestFetchAll_EmptyFirstPage(t *testing.T) {
	f := &pagesFake{}
	res, err := New(nil, f).FetchAll(context.Background(), model.QueryRequest{Endpoint: "https://h/q"})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Features) != 0 || f.calls != 1 {
		t.Fatalf("records=%d calls=%d", len(res.Features), f.calls)
	}
}

func TestFetchAll_FailsFastWithoutPartialResult(t *testing.T) {
	f := &pagesFake{sizes: []int{100, 100, 37}, failAt: 2}
	res, err := New(nil, f).FetchAll(context.Background(), model.QueryRequest{Endpoint: "https://h/q"})
	var te *exporterr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if res.Features != nil || res.Pages != 0 {
		t.Fatalf("partial result leaked: %+v", res)
	}
	if f.calls != 2 {
		t.Fatalf("calls=%d want 2", f.calls)
	}
}

func TestFetchAll_PageCap(t *testing.T) {
	f := &pagesFake{sizes: []int{1, 1, 1, 1, 1}}
	_, err := New(nil, f, WithMaxPages(3)).FetchAll(context.Background(), model.QueryRequest{Endpoint: "https://h/q"})
	var pe *exporterr.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("want PreconditionError, got %v", err)
	}
}

func TestFetchAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, &pagesFake{sizes: []int{1}}).FetchAll(ctx, model.QueryRequest{Endpoint: "https://h/q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
