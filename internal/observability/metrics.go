// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Refresh metrics
	RefreshRunsTotal  *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
	FetchBatchErrors  prometheus.Counter
	TrendingFallbacks prometheus.Counter

	// Cache metrics
	CacheReads     *prometheus.CounterVec
	WorkingSetSize prometheus.Gauge
	SnapshotErrors prometheus.Counter
	CacheClears    prometheus.Counter

	// Search metrics
	SearchQueriesTotal *prometheus.CounterVec
	SearchDuration     prometheus.Histogram

	// Live metrics
	WSClientsConnected prometheus.Gauge
	WSBroadcastsTotal  prometheus.Counter
	WSMessagesDropped  prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coinboard"
	}

	return &Metrics{
		// Refresh metrics
		RefreshRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of fetch-merge cycles by status",
		}, []string{"status"}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Fetch-merge cycle duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchBatchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "batch_errors_total",
			Help:      "Total number of upstream batch requests that failed",
		}),
		TrendingFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "trending_fallbacks_total",
			Help:      "Total number of cycles that fell back to the trending feed",
		}),

		// Cache metrics
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Total number of working set reads by source",
		}, []string{"source"}),
		WorkingSetSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "working_set_size",
			Help:      "Number of coins in the current working set",
		}),
		SnapshotErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "snapshot_errors_total",
			Help:      "Total number of snapshot persistence failures",
		}),
		CacheClears: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "clears_total",
			Help:      "Total number of explicit cache clears",
		}),

		// Search metrics
		SearchQueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Total number of search queries by result source",
		}, []string{"source"}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Live metrics
		WSClientsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "clients_connected",
			Help:      "Number of WebSocket clients currently connected",
		}),
		WSBroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "broadcasts_total",
			Help:      "Total number of refresh events broadcast to clients",
		}),
		WSMessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped for slow clients",
		}),

		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last successful fetch-merge cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRefresh records one fetch-merge cycle.
func RecordRefresh(status string, seconds float64) {
	DefaultMetrics.RefreshRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.RefreshDuration.Observe(seconds)
}

// RecordBatchError increments the failed batch counter.
func RecordBatchError() {
	DefaultMetrics.FetchBatchErrors.Inc()
}

// RecordTrendingFallback increments the trending fallback counter.
func RecordTrendingFallback() {
	DefaultMetrics.TrendingFallbacks.Inc()
}

// RecordCacheRead records a working set read and where it was served from.
func RecordCacheRead(source string) {
	DefaultMetrics.CacheReads.WithLabelValues(source).Inc()
}

// UpdateWorkingSetSize updates the working set size gauge.
func UpdateWorkingSetSize(n int) {
	DefaultMetrics.WorkingSetSize.Set(float64(n))
}

// RecordSnapshotError increments the snapshot persistence failure counter.
func RecordSnapshotError() {
	DefaultMetrics.SnapshotErrors.Inc()
}

// RecordCacheClear increments the explicit clear counter.
func RecordCacheClear() {
	DefaultMetrics.CacheClears.Inc()
}

// RecordSearch records a search query and where its results came from.
func RecordSearch(source string, seconds float64) {
	DefaultMetrics.SearchQueriesTotal.WithLabelValues(source).Inc()
	DefaultMetrics.SearchDuration.Observe(seconds)
}

// ClientConnected increments the connected WebSocket clients gauge.
func ClientConnected() {
	DefaultMetrics.WSClientsConnected.Inc()
}

// ClientDisconnected decrements the connected WebSocket clients gauge.
func ClientDisconnected() {
	DefaultMetrics.WSClientsConnected.Dec()
}

// RecordBroadcast records one broadcast and how many clients dropped it.
func RecordBroadcast(dropped int) {
	DefaultMetrics.WSBroadcastsTotal.Inc()
	if dropped > 0 {
		DefaultMetrics.WSMessagesDropped.Add(float64(dropped))
	}
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// UpdateLastRefresh updates the last successful refresh timestamp.
func UpdateLastRefresh(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulRefresh.Set(float64(unixSeconds))
}
