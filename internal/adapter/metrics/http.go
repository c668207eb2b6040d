package metrics

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const liveRoutePrefix = "/api/events/:eventID/"

// HTTPMetrics tracks the live action API. Requests are labelled by the
// participant role the route serves and the action it triggers.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
	RateLimited     *prometheus.CounterVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "action_duration_seconds",
			Help:      "Duration of live action requests in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"role", "action", "status_code"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of live action requests.",
		}, []string{"role", "action", "status_code"}),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_actions",
			Help:      "Number of live action requests currently being processed.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Live action requests rejected by the rate limiter.",
		}, []string{"role", "action"}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge, m.RateLimited)
	return m
}

// LiveRouteLabels maps an echo route path to its role and action labels.
// "/api/events/:eventID/operator/go-live" becomes ("operator", "go-live");
// routes shared by both roles report "any".
func LiveRouteLabels(path string) (role, action string) {
	rest, ok := strings.CutPrefix(path, liveRoutePrefix)
	if !ok {
		if path == "" {
			return "none", "unmatched"
		}
		return "none", path
	}
	if role, action, ok := strings.Cut(rest, "/"); ok {
		return role, action
	}
	return "any", rest
}

// Middleware records live action requests. Probes, scrapes and the
// long-lived websocket connection are skipped.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			if skipHTTPMetrics(path) {
				return next(c)
			}
			role, action := LiveRouteLabels(path)

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()

			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				status := strconv.Itoa(c.Response().Status)
				m.RequestDuration.WithLabelValues(role, action, status).Observe(v)
				m.RequestsTotal.WithLabelValues(role, action, status).Inc()
			}))

			err := next(c)
			timer.ObserveDuration()
			return err
		}
	}
}

// ObserveRateLimited counts a rejected request for the route path.
func (m *HTTPMetrics) ObserveRateLimited(path string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(LiveRouteLabels(path)).Inc()
}

func skipHTTPMetrics(path string) bool {
	switch {
	case path == "/metrics", path == "/version", path == "/connection/websocket":
		return true
	case strings.HasPrefix(path, "/health/"):
		return true
	}
	return false
}
