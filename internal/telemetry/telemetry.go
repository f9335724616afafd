// Package telemetry exposes the Prometheus instrumentation shared by the
// scraper, the scheduler and the HTTP API.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScrapeJobs counts finished scrape jobs by source and terminal status.
	ScrapeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridfeed",
		Subsystem: "scrape",
		Name:      "jobs_total",
		Help:      "Scrape jobs by source and terminal status.",
	}, []string{"source", "status"})

	// ScrapeDuration observes end-to-end job latency.
	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridfeed",
		Subsystem: "scrape",
		Name:      "duration_seconds",
		Help:      "End-to-end scrape job duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"source"})

	// RowsWritten counts rows the writer inserted or updated.
	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridfeed",
		Subsystem: "store",
		Name:      "rows_written_total",
		Help:      "Rows written by source and kind (inserted or updated).",
	}, []string{"source", "kind"})

	// ParseWarnings counts rows dropped by the normalizer.
	ParseWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridfeed",
		Subsystem: "normalize",
		Name:      "warnings_total",
		Help:      "Malformed rows skipped during normalization.",
	}, []string{"source"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridfeed",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "status"})

	// HTTPDuration observes API handler latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridfeed",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request duration by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
