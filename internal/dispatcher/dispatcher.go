// Package dispatcher implements per-request worker selection (spec.md
// §4.E). Grounded on the Strategy interface shape from the
// VishalMahato-Harbor-Load-Balancer reference example (Pick/Start/Done),
// but implemented as the spec's single concrete least-load-with-tie-break
// policy over the Worker Registry.
package dispatcher

import (
	"fleetkeeper/internal/worker"
)

// Dispatcher is stateless beyond reading Registry snapshots; pick and the
// subsequent active_requests increment are made atomic by the Registry
// itself (PickLeastLoaded holds its write lock across both steps).
type Dispatcher struct {
	Registry *worker.Registry
}

// New builds a Dispatcher over the given Registry.
func New(registry *worker.Registry) *Dispatcher {
	return &Dispatcher{Registry: registry}
}

// Pick selects the least-loaded dispatchable Worker and increments its
// accounting, or returns nil if none is dispatchable — the caller responds
// 503 in that case.
func (d *Dispatcher) Pick() *worker.Worker {
	return d.Registry.PickLeastLoaded()
}

// Done releases a dispatched request's accounting: decrement active_requests
// (saturating at 0) and, on success, overwrite response_time_ms with the
// observed latency. Must execute exactly once per dispatched request.
func (d *Dispatcher) Done(w *worker.Worker, success bool, latencyMS int64) {
	if success {
		d.Registry.SetResponseTime(w.ID, latencyMS)
	}
	d.Registry.DecrActive(w.ID)
}
