package autoscaler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fleetkeeper/internal/worker"
)

func runningHealthy(active int, responseMS int64, lastRequestAgo time.Duration) *worker.Worker {
	w := &worker.Worker{
		Phase:          worker.PhaseRunning,
		Healthy:        true,
		ActiveRequests: active,
		ResponseTimeMS: responseMS,
		LastRequestTS:  time.Now().Add(-lastRequestAgo),
	}
	return w
}

func TestDecideScalesUpBelowMinInstances(t *testing.T) {
	b := Bounds{MinInstances: 2, MaxInstances: 10, ScaleUpThreshold: 3, ScaleDownThreshold: 0.5, IdleTimeout: time.Second}
	workers := []*worker.Worker{runningHealthy(0, 0, 0)}

	d := Decide(workers, len(workers), b)
	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, RuleBelowMinInstances, d.Rule)
}

func TestDecideScalesUpOnHighLoad(t *testing.T) {
	b := Bounds{MinInstances: 1, MaxInstances: 10, ScaleUpThreshold: 3, ScaleDownThreshold: 0.5, IdleTimeout: time.Second}
	workers := []*worker.Worker{runningHealthy(5, 0, 0)}

	d := Decide(workers, len(workers), b)
	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, RuleAboveScaleUpThreshold, d.Rule)
}

func TestDecideNeverScalesUpBeyondMax(t *testing.T) {
	b := Bounds{MinInstances: 1, MaxInstances: 2, ScaleUpThreshold: 3, ScaleDownThreshold: 0.5, IdleTimeout: time.Second}
	workers := []*worker.Worker{runningHealthy(10, 0, 0), runningHealthy(10, 0, 0)}

	d := Decide(workers, len(workers), b)
	assert.Equal(t, ActionNone, d.Action)
}

func TestDecideScalesDownIdleAboveMin(t *testing.T) {
	b := Bounds{MinInstances: 1, MaxInstances: 10, ScaleUpThreshold: 3, ScaleDownThreshold: 0.5, IdleTimeout: time.Second}
	idle := runningHealthy(0, 0, 2*time.Second)
	busy := runningHealthy(0, 0, 0)
	workers := []*worker.Worker{idle, busy}

	d := Decide(workers, len(workers), b)
	assert.Equal(t, ActionScaleDown, d.Action)
	assert.Same(t, idle, d.Candidate)
}

func TestDecideNeverScalesDownAtMin(t *testing.T) {
	b := Bounds{MinInstances: 1, MaxInstances: 10, ScaleUpThreshold: 3, ScaleDownThreshold: 0.5, IdleTimeout: time.Second}
	workers := []*worker.Worker{runningHealthy(0, 0, time.Hour)}

	d := Decide(workers, len(workers), b)
	assert.Equal(t, ActionNone, d.Action)
}
