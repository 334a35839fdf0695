// Package metrics exposes Prometheus collectors for the bulletin service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bulletinRunsTotal          *prometheus.CounterVec
	bulletinCacheLookupsTotal  *prometheus.CounterVec
	bulletinExtractionsTotal   *prometheus.CounterVec
	bulletinRecordsTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		bulletinRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulletins_runs_total",
				Help: "Total number of scrape runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		bulletinCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulletins_cache_lookups_total",
				Help: "Total number of fingerprint cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		bulletinExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulletins_extractions_total",
				Help: "Total number of extraction calls, labeled by extractor and status.",
			},
			[]string{"extractor", "status"},
		)

		bulletinRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulletins_records_total",
				Help: "Total number of records returned, labeled by new or seen.",
			},
			[]string{"state"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	bulletinRunsTotal.WithLabelValues(status).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	bulletinCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveExtraction records one extractor invocation.
func ObserveExtraction(extractor, status string) {
	Init()
	bulletinExtractionsTotal.WithLabelValues(extractor, status).Inc()
}

// ObserveRecords records how many returned records were new and how many were already cached.
func ObserveRecords(fresh, seen int) {
	Init()
	if fresh > 0 {
		bulletinRecordsTotal.WithLabelValues("new").Add(float64(fresh))
	}
	if seen > 0 {
		bulletinRecordsTotal.WithLabelValues("seen").Add(float64(seen))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
