package prober

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetkeeper/internal/worker"
)

func portOf(t *testing.T, server *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestProbeOneMarksHealthyOnOK(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)

	p := New(registry, "/health", time.Second, time.Second, nil)
	p.probeOne(t.Context(), w)

	got, ok := registry.Get(w.ID)
	require.True(t, ok)
	assert.True(t, got.Healthy)
	assert.False(t, got.LastHealthyTS.IsZero())
}

func TestProbeOneMarksUnhealthyOnNon200(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)

	p := New(registry, "/health", time.Second, time.Second, nil)
	p.probeOne(t.Context(), w)

	got, ok := registry.Get(w.ID)
	require.True(t, ok)
	assert.False(t, got.Healthy)
}

func TestProbeOneEvictsAfterPersistentUnhealthyWindow(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)
	// Simulate a worker that was healthy well over a minute ago.
	registry.SetHealthProbe(w.ID, true, 5)
	stale, _ := registry.Get(w.ID)
	stale.LastHealthyTS = time.Now().Add(-2 * time.Minute)

	var evicted int32
	p := New(registry, "/health", time.Second, time.Second, func(evictee *worker.Worker) {
		atomic.AddInt32(&evicted, 1)
		assert.Equal(t, w.ID, evictee.ID)
	})
	p.probeOne(t.Context(), w)

	assert.Equal(t, int32(1), atomic.LoadInt32(&evicted))
}

func TestProbeOneNeverEvictsBeforeFirstSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)

	var evicted int32
	p := New(registry, "/health", time.Second, time.Second, func(*worker.Worker) {
		atomic.AddInt32(&evicted, 1)
	})
	p.probeOne(t.Context(), w)

	assert.Equal(t, int32(0), atomic.LoadInt32(&evicted))
}

func TestRunSkipsDrainingAndStoppedWorkers(t *testing.T) {
	var probed int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probed, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	draining := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(draining)
	draining.Phase = worker.PhaseDraining

	stopped := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(stopped)
	stopped.Phase = worker.PhaseStopped

	p := New(registry, "/health", time.Second, time.Second, nil)
	require.NoError(t, p.Run(t.Context()))

	assert.Equal(t, int32(0), atomic.LoadInt32(&probed))

	got, _ := registry.Get(draining.ID)
	assert.False(t, got.Healthy, "probing a draining worker must not flip it back to healthy")
}

func TestWarmUpSucceedsOnceBackendBecomesHealthy(t *testing.T) {
	var ready int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)

	go func() {
		time.Sleep(1200 * time.Millisecond)
		atomic.StoreInt32(&ready, 1)
	}()

	p := New(registry, "/health", time.Second, time.Second, nil)
	ok := p.WarmUp(t.Context(), w, 5*time.Second)
	assert.True(t, ok)
}

func TestWarmUpFailsAfterWindowElapses(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	registry := worker.NewRegistry(5000)
	w := worker.New(portOf(t, backend), "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w)

	p := New(registry, "/health", 200*time.Millisecond, 200*time.Millisecond, nil)
	ok := p.WarmUp(t.Context(), w, 1500*time.Millisecond)
	assert.False(t, ok)
}

func TestNewClampsCheckIntervalToFiveSeconds(t *testing.T) {
	registry := worker.NewRegistry(5000)
	p := New(registry, "/health", time.Second, 30*time.Second, nil)
	assert.Equal(t, 5*time.Second, p.Interval())
}
