package monitoring

import "time"

// Transition results.
const (
	ResultOK       = "ok"
	ResultNoop     = "noop"
	ResultInvalid  = "invalid"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// RecordOrderCreated counts a created order. fallback marks orders that got a
// non-sequential number.
func RecordOrderCreated(fallback bool) {
	numbering := "sequence"
	if fallback {
		numbering = "fallback"
	}
	ordersCreatedTotal.WithLabelValues(numbering).Inc()
}

func RecordNumberConflict() {
	orderNumberConflictsTotal.Inc()
}

// RecordTransition counts a requested status change and its outcome.
func RecordTransition(from, to, result string) {
	orderTransitionsTotal.WithLabelValues(from, to, result).Inc()
}

// ObserveStage records how long an order spent in a stage ("waiting" or
// "preparing").
func ObserveStage(stage string, d time.Duration) {
	orderStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func ClientConnected() {
	realtimeClients.Inc()
}

func ClientDisconnected() {
	realtimeClients.Dec()
}

func RecordEventBroadcast(eventType string) {
	realtimeEventsTotal.WithLabelValues(eventType).Inc()
}

func RecordDroppedClient() {
	realtimeDroppedClientsTotal.Inc()
}

// RecordMalformedEvent counts a dropped payload by where it came from
// ("kafka", "websocket" or "notifier").
func RecordMalformedEvent(source string) {
	realtimeMalformedEventsTotal.WithLabelValues(source).Inc()
}

// RecordRefresh counts a kitchen full refresh. err==nil is a success.
func RecordRefresh(trigger string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	kitchenRefreshesTotal.WithLabelValues(trigger, result).Inc()
}
