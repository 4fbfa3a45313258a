package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/export/full", 200, 0.001)

	body := scrape(t)
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestExportMetrics_Labels(t *testing.T) {
	ObserveExport("full", 237, nil)
	ObserveExport("columns", 0, errors.New("boom"))
	ObserveEmail(errors.New("smtp down"))
	ObservePageCache("l1", true)
	IncUpstreamPage(nil)
	IncExportJob("duplicate")

	body := scrape(t)
	for _, want := range []string{
		`export_total{flow="full",outcome="ok"}`,
		`export_total{flow="columns",outcome="error"}`,
		`export_rows_total{flow="full"}`,
		`email_deliveries_total{outcome="error"}`,
		`page_cache_results_total{outcome="hit",tier="l1"}`,
		`upstream_pages_total{result="ok"}`,
		`export_jobs_total{outcome="duplicate"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in:\n%s", want, body)
		}
	}
}
