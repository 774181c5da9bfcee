// Package worker holds the Worker record and the Registry that is the sole
// mutator of its fields, per spec.md §3/§4.B.
package worker

import (
	"time"

	"github.com/google/uuid"

	"fleetkeeper/pkg/runtime"
)

// Phase is a Worker's lifecycle phase.
type Phase string

const (
	PhaseStarting Phase = "Starting"
	PhaseRunning  Phase = "Running"
	PhaseDraining Phase = "Draining"
	PhaseStopped  Phase = "Stopped"
)

// Worker is the central entity of the pool controller. Every field here is
// mutated only through Registry methods; readers use Registry.Snapshot.
type Worker struct {
	ID             string
	Port           int
	RuntimeHandle  *runtime.Handle
	Name           string
	Phase          Phase
	Healthy        bool
	LastHealthyTS  time.Time
	ActiveRequests int
	TotalRequests  int64
	LastRequestTS  time.Time
	ResponseTimeMS int64

	// insertedAt breaks ties in dispatch and scale-down candidate
	// selection by insertion order, per spec.md §4.D/§4.E.
	insertedAt int64
}

// New creates a Starting-phase Worker bound to port, named
// <namePrefix>-<short(id)>. The Controller replaces that Name with the
// runtime Handle's Name whenever the adapter reports one, which every
// backend does (see runtime.Handle.Name).
func New(port int, namePrefix string, seq int64) *Worker {
	id := uuid.NewString()
	name := namePrefix + "-" + id[:8]
	return &Worker{
		ID:         id,
		Port:       port,
		Name:       name,
		Phase:      PhaseStarting,
		Healthy:    false,
		insertedAt: seq,
	}
}

// Load implements spec.md §4.D's per-worker load formula: active requests
// plus a sub-unit penalty for responses slower than 100ms, saturating at
// 1.0 per second of latency.
func (w *Worker) Load() float64 {
	penalty := float64(w.ResponseTimeMS-100) / 1000.0
	if penalty < 0 {
		penalty = 0
	}
	return float64(w.ActiveRequests) + penalty
}

// IsDispatchable reports whether the Worker may currently receive traffic.
func (w *Worker) IsDispatchable() bool {
	return w.Healthy && w.Phase == PhaseRunning
}
