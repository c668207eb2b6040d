package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterOrchestratorGauge exposes the number of running orchestrators.
func RegisterOrchestratorGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orchestrators_active",
		Help:      "Number of live orchestrators that have not ended.",
	}, func() float64 { return float64(count()) }))
}
