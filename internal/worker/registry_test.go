package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(r *Registry, healthy bool) *Worker {
	port := r.NextPort()
	w := New(port, "test", r.NextSeq())
	w.Phase = PhaseRunning
	w.Healthy = healthy
	r.Insert(w)
	return w
}

func TestPickLeastLoadedPrefersLowerLoad(t *testing.T) {
	r := NewRegistry(5001)
	a := newTestWorker(r, true)
	b := newTestWorker(r, true)
	a.ActiveRequests = 3
	b.ActiveRequests = 0

	picked := r.PickLeastLoaded()
	require.NotNil(t, picked)
	assert.Equal(t, b.ID, picked.ID)
	assert.Equal(t, 1, picked.ActiveRequests)
	assert.Equal(t, int64(1), picked.TotalRequests)
}

func TestPickLeastLoadedTieBreaksByInsertionOrder(t *testing.T) {
	r := NewRegistry(5001)
	first := newTestWorker(r, true)
	newTestWorker(r, true)

	picked := r.PickLeastLoaded()
	require.NotNil(t, picked)
	assert.Equal(t, first.ID, picked.ID)
}

func TestPickLeastLoadedIgnoresUnhealthyOrNonRunning(t *testing.T) {
	r := NewRegistry(5001)
	newTestWorker(r, false)
	assert.Nil(t, r.PickLeastLoaded())

	starting := newTestWorker(r, true)
	starting.Phase = PhaseStarting
	assert.Nil(t, r.PickLeastLoaded())
}

func TestDecrActiveSaturatesAtZero(t *testing.T) {
	r := NewRegistry(5001)
	w := newTestWorker(r, true)

	r.DecrActive(w.ID)
	r.DecrActive(w.ID)

	got, _ := r.Get(w.ID)
	assert.Equal(t, 0, got.ActiveRequests)
}

func TestRemoveDropsWorkerFromPool(t *testing.T) {
	r := NewRegistry(5001)
	w := newTestWorker(r, true)
	r.Remove(w.ID)

	_, ok := r.Get(w.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

// TestPortsAreMonotoneAndUnique exercises spec.md §8's monotone port
// allocation law: ports issued in ascending order and never reused.
func TestPortsAreMonotoneAndUnique(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ports are strictly increasing and unique", prop.ForAll(
		func(n int) bool {
			r := NewRegistry(5001)
			seen := make(map[int]bool)
			last := -1
			for i := 0; i < n; i++ {
				p := r.NextPort()
				if p <= last || seen[p] {
					return false
				}
				seen[p] = true
				last = p
			}
			return true
		},
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t)
}

// TestActiveRequestsNeverGoNegative exercises the saturating-decrement law
// under concurrent decrements of an idle worker.
func TestActiveRequestsNeverGoNegative(t *testing.T) {
	r := NewRegistry(5001)
	w := newTestWorker(r, true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.DecrActive(w.ID)
		}()
	}
	wg.Wait()

	got, _ := r.Get(w.ID)
	assert.GreaterOrEqual(t, got.ActiveRequests, 0)
}

// TestConcurrentDispatchNeverDoubleCountsAtZero verifies spec.md §4.E's
// reference semantics: pick + increment atomic under concurrent dispatch.
func TestConcurrentDispatchNeverDoubleCountsAtZero(t *testing.T) {
	r := NewRegistry(5001)
	a := newTestWorker(r, true)
	b := newTestWorker(r, true)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := r.PickLeastLoaded()
			require.NotNil(t, w)
			time.Sleep(time.Microsecond)
			r.DecrActive(w.ID)
		}()
	}
	wg.Wait()

	gotA, _ := r.Get(a.ID)
	gotB, _ := r.Get(b.ID)
	assert.Equal(t, 0, gotA.ActiveRequests)
	assert.Equal(t, 0, gotB.ActiveRequests)
	assert.Equal(t, int64(n), gotA.TotalRequests+gotB.TotalRequests)
}
