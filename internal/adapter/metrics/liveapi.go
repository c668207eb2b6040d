package metrics

import "github.com/prometheus/client_golang/prometheus"

// LiveAPIMetrics holds Prometheus metrics for calls to the remote session service.
type LiveAPIMetrics struct {
	Requests              *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	CircuitBreakerState   prometheus.Gauge
	CircuitBreakerChanges *prometheus.CounterVec
}

// NewLiveAPIMetrics creates and registers session service metrics on the given registry.
func NewLiveAPIMetrics(reg prometheus.Registerer) *LiveAPIMetrics {
	m := &LiveAPIMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveapi",
			Name:      "requests_total",
			Help:      "Total number of session service requests, by operation and result.",
		}, []string{"operation", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "liveapi",
			Name:      "request_duration_seconds",
			Help:      "Duration of session service requests in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liveapi",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		CircuitBreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveapi",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes, by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.Requests, m.RequestDuration, m.CircuitBreakerState, m.CircuitBreakerChanges)
	return m
}
