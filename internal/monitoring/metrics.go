package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of this package plus the Go and process
// collectors.
var Registry = prometheus.NewRegistry()

var (
	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_orders_created_total",
			Help: "Orders created, by how their order number was issued.",
		},
		[]string{"numbering"},
	)

	orderNumberConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cafe_order_number_conflicts_total",
			Help: "Order number insert attempts rejected by the uniqueness constraint.",
		},
	)

	orderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_order_transitions_total",
			Help: "Requested order status transitions by outcome.",
		},
		[]string{"from", "to", "result"},
	)

	orderStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cafe_order_stage_duration_seconds",
			Help:    "Time an order spent waiting to be taken or being prepared.",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		},
		[]string{"stage"},
	)

	realtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafe_realtime_clients",
			Help: "Display clients currently connected to the push channel.",
		},
	)

	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_realtime_events_total",
			Help: "Change events broadcast to connected clients, by type.",
		},
		[]string{"type"},
	)

	realtimeDroppedClientsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cafe_realtime_dropped_clients_total",
			Help: "Clients disconnected because their send queue was full.",
		},
	)

	realtimeMalformedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_realtime_malformed_events_total",
			Help: "Inbound change events dropped because they failed to decode.",
		},
		[]string{"source"},
	)

	kitchenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafe_kitchen_refreshes_total",
			Help: "Full order list refreshes performed by the kitchen display, by trigger and result.",
		},
		[]string{"trigger", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	Registry.MustRegister(Collectors()...)
}

// Collectors returns the domain collectors of this package. Useful in tests.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ordersCreatedTotal,
		orderNumberConflictsTotal,
		orderTransitionsTotal,
		orderStageDuration,
		realtimeClients,
		realtimeEventsTotal,
		realtimeDroppedClientsTotal,
		realtimeMalformedEventsTotal,
		kitchenRefreshesTotal,
	}
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
