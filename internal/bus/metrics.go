package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_bus_published_total",
		Help: "Messages published, by exchange",
	}, []string{"exchange"})

	publishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_bus_publish_errors_total",
		Help: "Failed publishes, by exchange",
	}, []string{"exchange"})

	consumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_bus_consumed_total",
		Help: "Deliveries handed to consumers, by queue",
	}, []string{"queue"})

	reconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_bus_reconnects_total",
		Help: "Broker reconnect attempts that succeeded, by backend",
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(publishedTotal)
	prometheus.MustRegister(publishErrors)
	prometheus.MustRegister(consumedTotal)
	prometheus.MustRegister(reconnectsTotal)
}
