package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. One instance is
// created at startup and shared by reference.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	BackendRequestsTotal *prometheus.CounterVec
	BackendErrors        *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	RateLimitRejections prometheus.Counter

	BackendHealthy *prometheus.GaugeVec
}

// New creates the collectors on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates the collectors on a specific registry, used
// by tests to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by route, method and status code",
		}, []string{"route", "method", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		ActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "Requests currently in flight",
		}),

		BackendRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_requests_total",
			Help: "Requests forwarded to backends, by route and version",
		}, []string{"route", "version", "url"}),

		BackendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_errors_total",
			Help: "Backend failures, by route and error type",
		}, []string{"route", "type"}),

		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Breaker state per backend URL (0=closed, 1=open, 2=half-open)",
		}, []string{"route", "url"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Response cache hits per route",
		}, []string{"route"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Response cache misses per route",
		}, []string{"route"}),

		CacheEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_evictions_total",
			Help: "Response cache FIFO evictions per route",
		}, []string{"route"}),

		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		}),

		BackendHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_healthy",
			Help: "Backend health flag per pool member (1=healthy)",
		}, []string{"route", "version", "url"}),
	}
}
