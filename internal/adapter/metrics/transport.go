package metrics

import "github.com/prometheus/client_golang/prometheus"

// TransportMetrics holds Prometheus metrics for media server connections.
type TransportMetrics struct {
	Dials             *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	CaptureAttempts   *prometheus.CounterVec
}

// NewTransportMetrics creates and registers media transport metrics on the given registry.
func NewTransportMetrics(reg prometheus.Registerer) *TransportMetrics {
	m := &TransportMetrics{
		Dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dials_total",
			Help:      "Total number of media server connection attempts, by result.",
		}, []string{"result"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Number of open media server connections.",
		}),
		CaptureAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "capture_attempts_total",
			Help:      "Total number of attempts to start publishing, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Dials, m.ActiveConnections, m.CaptureAttempts)
	return m
}
