// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Upstream metrics
	UpstreamAttempts *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	RPCCallLatency   *prometheus.HistogramVec
	HTTPResponses    *prometheus.CounterVec
	WSNotifications  *prometheus.CounterVec
	WSReconnects     prometheus.Counter

	// Cache metrics
	CacheRequests *prometheus.CounterVec

	// Aggregation metrics
	PriceFallbacks *prometheus.CounterVec

	// Snapshot metrics
	SnapshotRuns           *prometheus.CounterVec
	SnapshotDuration       prometheus.Histogram
	LastSuccessfulSnapshot prometheus.Gauge

	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "treasury_lens"
	}

	return &Metrics{
		UpstreamAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream call attempts by pool and outcome",
		}, []string{"pool", "outcome"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_latency_seconds",
			Help:      "Latency of a single upstream call attempt in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "http_responses_total",
			Help:      "Upstream HTTP responses by host and status code",
		}, []string{"host", "code"}),
		WSNotifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_notifications_total",
			Help:      "WebSocket notifications received by method",
		}, []string{"method"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		}),

		CacheRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by cache name and result",
		}, []string{"cache", "result"}),

		PriceFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "price",
			Name:      "fallbacks_total",
			Help:      "Prices resolved without a live feed by symbol and source",
		}, []string{"symbol", "source"}),

		SnapshotRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "runs_total",
			Help:      "Total number of snapshot runs by status",
		}, []string{"status"}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Snapshot run duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		LastSuccessfulSnapshot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_snapshot_timestamp",
			Help:      "Unix timestamp of last successful snapshot",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		APILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordUpstreamAttempt records the outcome and latency of one upstream attempt.
func RecordUpstreamAttempt(pool, outcome string, seconds float64) {
	DefaultMetrics.UpstreamAttempts.WithLabelValues(pool, outcome).Inc()
	DefaultMetrics.UpstreamLatency.WithLabelValues(pool).Observe(seconds)
}

// RecordUpstreamExhausted records a call that failed on every endpoint.
func RecordUpstreamExhausted(pool string) {
	DefaultMetrics.UpstreamAttempts.WithLabelValues(pool, "exhausted").Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPResponse records an upstream HTTP status code.
func RecordHTTPResponse(host string, code int) {
	DefaultMetrics.HTTPResponses.WithLabelValues(host, strconv.Itoa(code)).Inc()
}

// RecordWSNotification records a WebSocket notification.
func RecordWSNotification(method string) {
	DefaultMetrics.WSNotifications.WithLabelValues(method).Inc()
}

// RecordWSReconnect records a WebSocket reconnect attempt.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordCache records a cache lookup result (hit, miss, stale, shared).
func RecordCache(cache, result string) {
	DefaultMetrics.CacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordPriceFallback records a price resolved from a non-live source.
func RecordPriceFallback(symbol, source string) {
	DefaultMetrics.PriceFallbacks.WithLabelValues(symbol, source).Inc()
}

// RecordSnapshotRun records a snapshot run.
func RecordSnapshotRun(status string, durationSeconds float64) {
	DefaultMetrics.SnapshotRuns.WithLabelValues(status).Inc()
	DefaultMetrics.SnapshotDuration.Observe(durationSeconds)
}

// RecordSnapshotSuccess updates the last successful snapshot gauge.
func RecordSnapshotSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulSnapshot.Set(float64(unixSeconds))
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(route string, code int, seconds float64) {
	DefaultMetrics.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.APILatency.WithLabelValues(route).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
