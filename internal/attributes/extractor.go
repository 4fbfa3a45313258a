// Package attributes resolves column names to values on a feature.
//
// Known schema fields and geometry-derived columns have fixed getters. Any
// other name must appear in the dynamic schema, which is the field list the
// server reported (or, failing that, the attribute keys it actually sent).
// Names in neither set are rejected with a FieldResolutionError.
package attributes

import (
	"sort"

	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

// Derived column names computed from geometry.
const (
	ColumnGeometryX = "GEOMETRY_X"
	ColumnGeometryY = "GEOMETRY_Y"
	ColumnH3Cell    = "H3_CELL"
)

type Getter func(f model.Feature) any

type CellIndexer interface {
	CellForPoint(x, y float64) (string, error)
}

type Option func(*Extractor)

// WithCellIndexer enables the H3_CELL column.
func WithCellIndexer(ix CellIndexer) Option {
	return func(e *Extractor) {
		if ix == nil {
			return
		}
		e.known[ColumnH3Cell] = func(f model.Feature) any {
			x, y, ok := f.Point()
			if !ok {
				return nil
			}
			c, err := ix.CellForPoint(x, y)
			if err != nil {
				return nil
			}
			return c
		}
	}
}

type Extractor struct {
	known   map[string]Getter
	dynamic map[string]struct{}
}

func New(schema []model.Field, opts ...Option) *Extractor {
	e := &Extractor{
		known:   knownGetters(),
		dynamic: make(map[string]struct{}, len(schema)),
	}
	for _, f := range schema {
		if f.Name != "" {
			e.dynamic[f.Name] = struct{}{}
		}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ForResponse uses the reported field list, or the union of attribute keys when none was sent.
func ForResponse(fields []model.Field, features []model.Feature, opts ...Option) *Extractor {
	if len(fields) > 0 {
		return New(fields, opts...)
	}
	seen := map[string]struct{}{}
	var schema []model.Field
	for _, f := range features {
		for k := range f.Attributes.Extra {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			schema = append(schema, model.Field{Name: k})
		}
	}
	return New(schema, opts...)
}

func knownGetters() map[string]Getter {
	return map[string]Getter{
		model.FieldRequestNo: func(f model.Feature) any {
			return f.Attributes.RequestNo
		},
		model.FieldRequestType: func(f model.Feature) any {
			return deref(f.Attributes.RequestType)
		},
		model.FieldStatusDescription: func(f model.Feature) any {
			return deref(f.Attributes.StatusDescription)
		},
		ColumnGeometryX: func(f model.Feature) any {
			if x, _, ok := f.Point(); ok {
				return x
			}
			return nil
		},
		ColumnGeometryY: func(f model.Feature) any {
			if _, y, ok := f.Point(); ok {
				return y
			}
			return nil
		},
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Getter returns the accessor for name.
func (e *Extractor) Getter(name string) (Getter, error) {
	if g, ok := e.known[name]; ok {
		return g, nil
	}
	if _, ok := e.dynamic[name]; ok {
		return func(f model.Feature) any {
			return f.Attributes.Extra[name]
		}, nil
	}
	return nil, &exporterr.FieldResolutionError{Field: name}
}

// Extract resolves one field. Absent optional values come back as nil.
func (e *Extractor) Extract(attrs model.Attributes, name string) (any, error) {
	g, err := e.Getter(name)
	if err != nil {
		return nil, err
	}
	return g(model.Feature{Attributes: attrs}), nil
}

// Resolve checks a whole column selection before any row is produced.
func (e *Extractor) Resolve(columns []string) ([]Getter, error) {
	if len(columns) == 0 {
		return nil, &exporterr.PreconditionError{Reason: "no columns selected"}
	}
	out := make([]Getter, len(columns))
	for i, c := range columns {
		g, err := e.Getter(c)
		if err != nil {
			return nil, err
		}
		out[i] = g
	}
	return out, nil
}

// Columns lists every resolvable name: known ones first, then the dynamic schema sorted.
func (e *Extractor) Columns() []string {
	out := append([]string(nil), model.KnownFields...)
	for _, n := range []string{ColumnGeometryX, ColumnGeometryY, ColumnH3Cell} {
		if _, ok := e.known[n]; ok {
			out = append(out, n)
		}
	}
	dyn := make([]string, 0, len(e.dynamic))
	for n := range e.dynamic {
		if _, ok := e.known[n]; !ok {
			dyn = append(dyn, n)
		}
	}
	sort.Strings(dyn)
	return append(out, dyn...)
}
