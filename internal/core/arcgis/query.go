// Package arcgis builds query strings for ArcGIS feature-server REST endpoints.
package arcgis

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/feature-export/internal/core/model"
)

// OutSR is the spatial reference requested for returned geometry.
const OutSR = "4326"

// QueryEndpoint normalizes a layer URL so it ends with /query.
func QueryEndpoint(layerURL string) string {
	u := strings.TrimRight(strings.TrimSpace(layerURL), "/")
	if u == "" || strings.HasSuffix(u, "/query") {
		return u
	}
	return u + "/query"
}

// OutFields renders the field selection, "*" when empty.
func OutFields(fields []string) string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return "*"
	}
	return strings.Join(out, ",")
}

func BuildQueryParams(q model.QueryRequest) url.Values {
	params := url.Values{}
	where := strings.TrimSpace(q.Where)
	if where == "" {
		where = model.DefaultWhere
	}
	params.Set("where", where)
	params.Set("outFields", OutFields(q.OutFields))
	params.Set("outSR", OutSR)
	if q.Paged {
		params.Set("resultOffset", strconv.Itoa(q.Offset))
	}
	params.Set("f", "json")
	return params
}

// QueryURL returns the full request URL for q.
func QueryURL(q model.QueryRequest) (*url.URL, error) {
	u, err := url.Parse(QueryEndpoint(q.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	u.RawQuery = BuildQueryParams(q).Encode()
	return u, nil
}
