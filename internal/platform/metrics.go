package platform

import "github.com/prometheus/client_golang/prometheus"

var (
	apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_platform_api_requests_total",
		Help: "REST API requests, by endpoint and status code",
	}, []string{"endpoint", "status"})
	chatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_platform_chat_messages_total",
		Help: "PRIVMSG lines received from the chat gateway",
	})
	chatReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_platform_chat_reconnects_total",
		Help: "Chat gateway reconnects",
	})
	roomsJoined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_platform_rooms_joined",
		Help: "Chat rooms currently joined",
	})
	tokenRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_platform_token_refreshes_total",
		Help: "App access tokens fetched from the auth endpoint",
	})
)

func init() {
	prometheus.MustRegister(apiRequests)
	prometheus.MustRegister(chatMessagesTotal)
	prometheus.MustRegister(chatReconnects)
	prometheus.MustRegister(roomsJoined)
	prometheus.MustRegister(tokenRefreshes)
}
