package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ProbesTotal    *prometheus.CounterVec
	ProbeFailures  *prometheus.CounterVec
	ProviderUp     *prometheus.GaugeVec
	ChatRequests   *prometheus.CounterVec
	ChatFailures   *prometheus.CounterVec
	ModelsDetected *prometheus.GaugeVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contxtd",
				Name:      "liveness_probes_total",
				Help:      "Total liveness probes issued per local provider",
			}, []string{"provider"}),
			ProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contxtd",
				Name:      "liveness_probe_failures_total",
				Help:      "Total failed liveness probes per local provider",
			}, []string{"provider"}),
			ProviderUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "contxtd",
				Name:      "provider_up",
				Help:      "1 when a local provider's last probe succeeded",
			}, []string{"provider"}),
			ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contxtd",
				Name:      "chat_requests_total",
				Help:      "Total chat dispatches per provider",
			}, []string{"provider"}),
			ChatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contxtd",
				Name:      "chat_failures_total",
				Help:      "Total failed chat dispatches per provider",
			}, []string{"provider"}),
			ModelsDetected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "contxtd",
				Name:      "models_detected",
				Help:      "Model count reported by a local provider's last probe",
			}, []string{"provider"}),
		}
		prometheus.MustRegister(
			global.ProbesTotal,
			global.ProbeFailures,
			global.ProviderUp,
			global.ChatRequests,
			global.ChatFailures,
			global.ModelsDetected,
		)
	})
	return global
}
