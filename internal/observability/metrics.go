package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "azaan_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
	Materialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "azaan_queue_materialized_total", Help: "Queue entries created by the materializer"},
		[]string{"prayer"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "azaan_dispatch_total", Help: "Queue entry outcomes per processing run"},
		[]string{"result"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "azaan_delivery_total", Help: "Per-recipient delivery outcomes"},
		[]string{"result"},
	)
	PushSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "push_send_total", Help: "Push transport call outcomes"},
		[]string{"provider", "result"},
	)
	PushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "push_send_latency_seconds", Help: "Push transport call latency"},
		[]string{"provider"},
	)
	TokensRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "azaan_tokens_removed_total", Help: "Invalid device tokens removed after delivery"},
	)
	Swept = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "azaan_retention_deleted_total", Help: "Rows removed by retention sweeps"},
		[]string{"table"},
	)
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "azaan_tick_duration_seconds", Help: "Scheduler tick duration"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Materialized, Dispatches, Deliveries, PushSend, PushLatency, TokensRemoved, Swept, TickDuration)
}
