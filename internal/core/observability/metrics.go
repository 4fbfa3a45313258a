package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_pages_total",
			Help: "Feature pages fetched from the upstream, by result.",
		},
		[]string{"result"},
	)

	exportTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_total",
			Help: "Exports by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)

	exportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_rows_total",
			Help: "Data rows written into spreadsheets, by flow.",
		},
		[]string{"flow"},
	)

	emailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_deliveries_total",
			Help: "Email deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	pageCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "page_cache_results_total",
			Help: "Page cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	exportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_jobs_total",
			Help: "Export job events consumed, by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncUpstreamPage(err error) {
	upstreamPages.WithLabelValues(result(err)).Inc()
}

func ObserveExport(flow string, rows int, err error) {
	exportTotal.WithLabelValues(flow, result(err)).Inc()
	if err == nil && rows > 0 {
		exportRows.WithLabelValues(flow).Add(float64(rows))
	}
}

func ObserveEmail(err error) {
	emailDeliveries.WithLabelValues(result(err)).Inc()
}

// ObservePageCache records a lookup in tier ("l1" or "redis").
func ObservePageCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	pageCacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpDuration.WithLabelValues(op, result(err)).Observe(durationSeconds)
}

// IncExportJob counts a consumed job; outcome is "done", "duplicate", "invalid", "retry" or "error".
func IncExportJob(outcome string) {
	exportJobs.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
