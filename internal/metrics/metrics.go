// Package metrics exposes Prometheus instrumentation for the CouchDB client:
// per-request counters and latencies, retry counts per policy and bulk flush
// sizes. Recording is a no-op unless enabled, so library users who do not
// scrape metrics pay almost nothing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	bulkFlushTotal  prometheus.Counter
	bulkFlushDocs   prometheus.Histogram

	mu      sync.RWMutex
	enabled bool
)

func initMetrics() {
	registry = prometheus.NewRegistry()

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchdb_client_requests_total",
			Help: "Total number of HTTP requests sent to CouchDB",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "couchdb_client_request_duration_seconds",
			Help:    "Duration of HTTP requests sent to CouchDB",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchdb_client_retries_total",
			Help: "Total number of request retries, by retry policy",
		},
		[]string{"policy"}, // "transient", "server_busy"
	)

	bulkFlushTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "couchdb_client_bulk_flushes_total",
			Help: "Total number of bulk update flushes",
		},
	)

	bulkFlushDocs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "couchdb_client_bulk_flush_docs",
			Help:    "Number of documents sent per bulk flush",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		retriesTotal,
		bulkFlushTotal,
		bulkFlushDocs,
	)
}

// Enable turns metric collection on. Safe to call more than once.
func Enable() {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		initMetrics()
	}
	enabled = true
}

// Enabled reports whether metric collection is on.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Handler returns an http.Handler serving the client metrics in Prometheus
// exposition format. It enables collection as a side effect.
func Handler() http.Handler {
	Enable()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordRequest records one request execution. A status of 0 means the
// request failed before a response arrived.
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if !Enabled() {
		return
	}
	code := strconv.Itoa(status)
	requestsTotal.WithLabelValues(method, endpoint, code).Inc()
	requestDuration.WithLabelValues(method, endpoint, code).Observe(duration.Seconds())
}

// RecordRetry records one retried request under the given policy.
func RecordRetry(policy string) {
	if !Enabled() {
		return
	}
	retriesTotal.WithLabelValues(policy).Inc()
}

// RecordBulkFlush records one bulk flush of docs documents.
func RecordBulkFlush(docs int) {
	if !Enabled() {
		return
	}
	bulkFlushTotal.Inc()
	bulkFlushDocs.Observe(float64(docs))
}
