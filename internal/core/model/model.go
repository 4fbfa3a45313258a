// Package model defines core domain types shared across the service.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Known attribute names.
const (
	FieldRequestNo         = "REQUEST_NO"
	FieldRequestType       = "REQUEST_TYPE"
	FieldStatusDescription = "STATUS_DESCRIPTION"
)

// KnownFields lists the fixed attribute schema in sheet order.
var KnownFields = []string{FieldRequestNo, FieldRequestType, FieldStatusDescription}

// DefaultWhere selects every record.
const DefaultWhere = "1=1"

type QueryRequest struct {
	Endpoint  string
	Where     string
	OutFields []string
	Offset    int
	Paged     bool
}

// WithOffset returns a paged copy of q starting at offset.
func (q QueryRequest) WithOffset(offset int) QueryRequest {
	q.Offset = offset
	q.Paged = true
	return q
}

type FeatureResponse struct {
	Fields   []Field   `json:"fields,omitempty"`
	Features []Feature `json:"features"`
}

// Field is one entry of the schema descriptor the server sends next to features.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Alias string `json:"alias,omitempty"`
}

type Feature struct {
	Attributes Attributes `json:"attributes"`
	Geometry   *Geometry  `json:"geometry,omitempty"`
}

// Point returns the feature location when both coordinates are present.
func (f Feature) Point() (x, y float64, ok bool) {
	if f.Geometry == nil || !f.Geometry.Valid() {
		return 0, 0, false
	}
	return *f.Geometry.X, *f.Geometry.Y, true
}

// Attributes holds the fixed schema plus whatever else the layer returned.
type Attributes struct {
	RequestNo         int64
	RequestType       *string
	StatusDescription *string
	Extra             map[string]any
}

func (a *Attributes) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}

	out := Attributes{}
	for k, v := range raw {
		switch k {
		case FieldRequestNo:
			n, err := requestNo(v)
			if err != nil {
				return err
			}
			out.RequestNo = n
		case FieldRequestType:
			out.RequestType = optString(v)
		case FieldStatusDescription:
			out.StatusDescription = optString(v)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = v
		}
	}
	*a = out
	return nil
}

func (a Attributes) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(a.Map())
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return b, nil
}

// Map flattens the attributes back into a single name/value bag.
func (a Attributes) Map() map[string]any {
	m := make(map[string]any, len(a.Extra)+3)
	for k, v := range a.Extra {
		m[k] = v
	}
	m[FieldRequestNo] = a.RequestNo
	if a.RequestType != nil {
		m[FieldRequestType] = *a.RequestType
	} else {
		m[FieldRequestType] = nil
	}
	if a.StatusDescription != nil {
		m[FieldStatusDescription] = *a.StatusDescription
	} else {
		m[FieldStatusDescription] = nil
	}
	return m
}

func requestNo(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil || f != float64(int64(f)) {
				return 0, fmt.Errorf("%s: not an integer: %q", FieldRequestNo, t.String())
			}
			n = int64(f)
		}
		if n < 0 {
			return 0, fmt.Errorf("%s: negative value %d", FieldRequestNo, n)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", FieldRequestNo, v)
	}
}

func optString(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return &t
	default:
		s := fmt.Sprint(t)
		return &s
	}
}

// Geometry is an optional point; polygon layers decode to an empty value.
type Geometry struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

func (g *Geometry) UnmarshalJSON(b []byte) error {
	if strings.TrimSpace(string(b)) == "null" {
		return nil
	}
	var tmp struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}
	if (tmp.X == nil) != (tmp.Y == nil) {
		return errors.New("geometry: x and y must be both present or both absent")
	}
	g.X, g.Y = tmp.X, tmp.Y
	return nil
}

func (g Geometry) Valid() bool {
	return g.X != nil && g.Y != nil
}
