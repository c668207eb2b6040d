package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics holds Prometheus metrics for the shared session cache.
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Invalidations prometheus.Counter

	CircuitBreakerState prometheus.Gauge
}

// NewCacheMetrics creates and registers cache metrics on the given registry.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "hits_total",
			Help:      "Total number of session cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "misses_total",
			Help:      "Total number of session cache misses, by layer.",
		}, []string{"layer"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "invalidations_total",
			Help:      "Total number of session cache invalidations received.",
		}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Invalidations, m.CircuitBreakerState)
	return m
}
