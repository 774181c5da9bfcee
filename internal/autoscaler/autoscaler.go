// Package autoscaler implements the Autoscaler control loop (spec.md §4.D):
// a periodic evaluation of aggregate pool load against thresholds and
// bounds, issuing at most one scale action per tick.
//
// Grounded on pkg/autoscaler/decision_engine.go and manager.go from the
// teacher, radically simplified to spec.md §4.D's single-pool, single-
// formula decision table — no per-endpoint priority queue, no resource-based
// preemption. What's kept: the ticker-driven control-loop shape, the
// decide/apply split, and the mutual-exclusion-around-one-tick pattern from
// the teacher's DistributedLock, reimplemented in-process since cross-
// process coordination is explicitly out of scope.
package autoscaler

import (
	"context"
	"sync"
	"time"

	"fleetkeeper/internal/worker"
	"fleetkeeper/pkg/logger"
)

// Action is the decision an autoscaler tick may take.
type Action int

const (
	ActionNone Action = iota
	ActionScaleUp
	ActionScaleDown
)

// Rule identifies which of spec.md §4.D's ordered rules fired, for the
// structured scaling-event log (a supplemented, additive feature).
type Rule int

const (
	RuleNone Rule = iota
	RuleBelowMinInstances
	RuleAboveScaleUpThreshold
	RuleIdleAboveMin
)

// Decision is the pure outcome of evaluating one tick's snapshot.
type Decision struct {
	Action    Action
	Rule      Rule
	Candidate *worker.Worker // set only for ActionScaleDown
	AvgLoad   float64
	Healthy   int
}

// Bounds is the scaling configuration from spec.md §6.
type Bounds struct {
	MinInstances       int
	MaxInstances       int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	IdleTimeout        time.Duration
}

// Event is one structured scaling decision, kept in a bounded in-memory ring
// buffer and exposed via /lb-status — a supplemented feature, additive only.
type Event struct {
	At      time.Time
	Rule    Rule
	Action  Action
	Before  int
	After   int
	AvgLoad float64
}

const maxEvents = 50

// Autoscaler owns the tick lock, the decision function, and the event log.
// ScaleUp/ScaleDown are injected by the Controller, which is the only
// component that knows about the Runtime Adapter and warm-up probing.
type Autoscaler struct {
	Registry *worker.Registry
	Bounds   Bounds
	interval time.Duration

	ScaleUp   func(ctx context.Context) error
	ScaleDown func(ctx context.Context, candidate *worker.Worker) error

	tickLock sync.Mutex

	eventsMu sync.Mutex
	events   []Event
}

// New builds an Autoscaler.
func New(registry *worker.Registry, bounds Bounds, interval time.Duration) *Autoscaler {
	return &Autoscaler{
		Registry: registry,
		Bounds:   bounds,
		interval: interval,
	}
}

// Name satisfies internal/jobs.Job.
func (a *Autoscaler) Name() string { return "autoscaler" }

// Interval satisfies internal/jobs.Job.
func (a *Autoscaler) Interval() time.Duration { return a.interval }

// Decide is a pure function of the current Pool snapshot, implementing
// spec.md §4.D's ordered decision table. Exported standalone for property
// testing without spinning up a Registry or Runtime Adapter.
func Decide(workers []*worker.Worker, poolSize int, b Bounds) Decision {
	var healthy []*worker.Worker
	for _, w := range workers {
		if w.Healthy && w.Phase == worker.PhaseRunning {
			healthy = append(healthy, w)
		}
	}

	var avgLoad float64
	if len(healthy) > 0 {
		var sum float64
		for _, w := range healthy {
			sum += w.Load()
		}
		avgLoad = sum / float64(len(healthy))
	}

	d := Decision{AvgLoad: avgLoad, Healthy: len(healthy)}

	// Rule 1: below minInstances and room to grow.
	if len(healthy) < b.MinInstances && poolSize < b.MaxInstances {
		d.Action = ActionScaleUp
		d.Rule = RuleBelowMinInstances
		return d
	}

	// Rule 2: overloaded and room to grow.
	if len(healthy) > 0 && avgLoad > b.ScaleUpThreshold && len(healthy) < b.MaxInstances {
		d.Action = ActionScaleUp
		d.Rule = RuleAboveScaleUpThreshold
		return d
	}

	// Rule 3: idle above min — pick the idle worker with the oldest
	// last_request_ts, tie-break earliest insertion (Snapshot is already in
	// insertion order, so the first match with the oldest timestamp wins).
	if len(healthy) > b.MinInstances && avgLoad < b.ScaleDownThreshold {
		var oldest *worker.Worker
		for _, w := range healthy {
			if w.ActiveRequests != 0 {
				continue
			}
			if time.Since(w.LastRequestTS) <= b.IdleTimeout {
				continue
			}
			if oldest == nil || w.LastRequestTS.Before(oldest.LastRequestTS) {
				oldest = w
			}
		}
		if oldest != nil {
			d.Action = ActionScaleDown
			d.Rule = RuleIdleAboveMin
			d.Candidate = oldest
			return d
		}
	}

	d.Action = ActionNone
	d.Rule = RuleNone
	return d
}

// Run executes one tick under the in-process tick lock, so overlapping
// ticks (e.g. a slow scale action still in flight) never interleave.
func (a *Autoscaler) Run(ctx context.Context) error {
	a.tickLock.Lock()
	defer a.tickLock.Unlock()

	workers := a.Registry.Snapshot()
	before := len(workers)
	d := Decide(workers, before, a.Bounds)

	switch d.Action {
	case ActionScaleUp:
		if a.ScaleUp == nil {
			return nil
		}
		if err := a.ScaleUp(ctx); err != nil {
			logger.Warn("autoscaler scale-up failed: " + err.Error())
			return nil
		}
		a.recordEvent(d, before, before+1)
	case ActionScaleDown:
		if a.ScaleDown == nil {
			return nil
		}
		if err := a.ScaleDown(ctx, d.Candidate); err != nil {
			logger.Warn("autoscaler scale-down failed: " + err.Error())
		}
		a.recordEvent(d, before, before-1)
	}
	return nil
}

func (a *Autoscaler) recordEvent(d Decision, before, after int) {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()
	a.events = append(a.events, Event{
		At:      time.Now(),
		Rule:    d.Rule,
		Action:  d.Action,
		Before:  before,
		After:   after,
		AvgLoad: d.AvgLoad,
	})
	if len(a.events) > maxEvents {
		a.events = a.events[len(a.events)-maxEvents:]
	}
}

// RecentEvents returns a copy of the bounded scaling-event log.
func (a *Autoscaler) RecentEvents() []Event {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}
