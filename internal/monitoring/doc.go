// Package monitoring provides Prometheus metrics and recording helpers for
// the order service, the realtime hub and the kitchen display client.
//
// All metrics follow the naming convention cafe_<component>_<metric>_<unit>
// and are registered against the package Registry on import. Processes expose
// it with Handler().
//
// Usage:
//
//	monitoring.RecordOrderCreated(fallback)
//	monitoring.RecordTransition(from, to, monitoring.ResultOK)
package monitoring
