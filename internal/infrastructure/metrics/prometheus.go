package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHitRate   prometheus.Gauge
	cacheKeys      prometheus.Gauge
	decisions      *prometheus.CounterVec
	macroCalls     *prometheus.CounterVec
	grpcRequests   *prometheus.CounterVec
	grpcDuration   *prometheus.HistogramVec
	grpcErrors     *prometheus.CounterVec
	cacheCounterFn []prometheus.CounterFunc
}

// NewPrometheusExporter creates a new Prometheus exporter registered with
// the default registry. Create at most one per process.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	e := &PrometheusExporter{
		collector: collector,
		cacheHitRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rowguard_policy_cache_hit_rate",
			Help: "Current policy cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rowguard_policy_cache_keys_current",
			Help: "Current number of keys in the policy cache",
		}),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rowguard_decisions_total",
				Help: "Total number of resolved authorization requests",
			},
			[]string{"collection", "operation", "allowed", "cached"},
		),
		macroCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rowguard_macro_executions_total",
				Help: "Total number of macro executions",
			},
			[]string{"kind", "failed"},
		),
		grpcRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rowguard_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rowguard_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rowguard_grpc_errors_total",
				Help: "Total number of gRPC errors",
			},
			[]string{"method"},
		),
	}

	// Cache counters are read from the cache itself when scraped
	e.cacheCounterFn = []prometheus.CounterFunc{
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "rowguard_policy_cache_hits_total",
			Help: "Total number of policy cache hits",
		}, func() float64 { return float64(collector.GetCacheMetrics().Hits) }),
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "rowguard_policy_cache_misses_total",
			Help: "Total number of policy cache misses",
		}, func() float64 { return float64(collector.GetCacheMetrics().Misses) }),
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "rowguard_policy_cache_evictions_total",
			Help: "Total number of policy cache evictions due to memory limits",
		}, func() float64 { return float64(collector.GetCacheMetrics().Evictions) }),
		promauto.NewCounterFunc(prometheus.CounterOpts{
			Name: "rowguard_policy_cache_expired_total",
			Help: "Total number of policy cache entries removed after their TTL",
		}, func() float64 { return float64(collector.GetCacheMetrics().Expired) }),
	}

	return e
}

// Update updates Gauge metrics from the collector.
// Counters are updated via interceptor and the collector, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(method string) {
	e.grpcErrors.WithLabelValues(method).Inc()
}

// RecordDecision records a resolved authorization request.
func (e *PrometheusExporter) RecordDecision(collection, operation string, allowed, cached bool) {
	e.decisions.WithLabelValues(collection, operation, strconv.FormatBool(allowed), strconv.FormatBool(cached)).Inc()
}

// RecordMacro records a macro execution.
func (e *PrometheusExporter) RecordMacro(kind string, failed bool) {
	e.macroCalls.WithLabelValues(kind, strconv.FormatBool(failed)).Inc()
}

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
