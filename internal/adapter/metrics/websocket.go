package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for UI connections receiving live state.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesPublished prometheus.Counter
	PublishErrors     prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of live-state messages published.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "publish_errors_total",
			Help:      "Total number of live-state messages that failed to publish.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished, m.PublishErrors)
	return m
}
