// Package prober implements the Health Prober (spec.md §4.C): periodic HTTP
// health checks that update a Worker's health, last-healthy timestamp, and
// response time, and flag persistently-unhealthy Workers for eviction.
package prober

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fleetkeeper/internal/worker"
	"fleetkeeper/pkg/logger"
)

const unhealthyEvictionWindow = 60 * time.Second

// Prober owns the periodic probe tick. It never terminates a Worker itself
// (only the Runtime Adapter does that, via the Controller); it only flags
// Workers for eviction through EvictFunc.
type Prober struct {
	Registry       *worker.Registry
	HealthEndpoint string
	Timeout        time.Duration
	CheckInterval  time.Duration

	// Evict is invoked (without holding any registry lock) for a Worker
	// that has been unhealthy for more than 60s. The Controller is
	// responsible for draining and terminating it.
	Evict func(w *worker.Worker)

	client *http.Client
}

// New builds a Prober. checkInterval is clamped to 5000ms as spec.md §4.C requires.
func New(registry *worker.Registry, healthEndpoint string, timeout, checkInterval time.Duration, evict func(w *worker.Worker)) *Prober {
	if checkInterval > 5*time.Second {
		checkInterval = 5 * time.Second
	}
	return &Prober{
		Registry:       registry,
		HealthEndpoint: healthEndpoint,
		Timeout:        timeout,
		CheckInterval:  checkInterval,
		Evict:          evict,
		client:         &http.Client{},
	}
}

// Name satisfies internal/jobs.Job.
func (p *Prober) Name() string { return "health-prober" }

// Interval satisfies internal/jobs.Job.
func (p *Prober) Interval() time.Duration { return p.CheckInterval }

// Run probes every Worker concurrently and applies outcomes to the registry.
// Probes are non-blocking relative to dispatch: a failed probe never cancels
// in-flight proxied requests, because it only ever touches health fields.
func (p *Prober) Run(ctx context.Context) error {
	workers := p.Registry.Snapshot()

	var wg sync.WaitGroup
	for _, w := range workers {
		// A worker already being torn down (or already gone) is no longer
		// dispatch-eligible, but a last successful probe response racing its
		// shutdown would set Healthy=true without touching Phase, producing
		// a transient healthy=true/phase=Draining state that violates
		// spec.md §3's "healthy implies Running" invariant.
		if w.Phase == worker.PhaseDraining || w.Phase == worker.PhaseStopped {
			continue
		}
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			p.probeOne(ctx, w)
		}(w)
	}
	wg.Wait()
	return nil
}

func (p *Prober) probeOne(ctx context.Context, w *worker.Worker) {
	healthy, latencyMS := p.probe(ctx, w.Port)
	p.Registry.SetHealthProbe(w.ID, healthy, latencyMS)

	if !healthy {
		current, ok := p.Registry.Get(w.ID)
		if ok && !current.LastHealthyTS.IsZero() && time.Since(current.LastHealthyTS) > unhealthyEvictionWindow {
			if p.Evict != nil {
				p.Evict(current)
			}
		} else if ok && current.LastHealthyTS.IsZero() {
			// Never been healthy: warm-up owns eviction for that window; a
			// steady-state probe failure before any success is logged only.
			logger.Warn(fmt.Sprintf("worker %s still unhealthy and has never passed a probe", w.ID))
		}
	}
}

// probe issues a single GET against the worker's health endpoint and reports
// success plus observed latency.
func (p *Prober) probe(ctx context.Context, port int) (bool, int64) {
	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d%s", port, p.HealthEndpoint)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return false, 0
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, elapsed
}

// WarmUp probes at 1s cadence until the first 200 OK or the window elapses,
// per spec.md §4.C. Returns true on success.
func (p *Prober) WarmUp(ctx context.Context, w *worker.Worker, window time.Duration) bool {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		healthy, latencyMS := p.probe(ctx, w.Port)
		if healthy {
			p.Registry.SetHealthProbe(w.ID, true, latencyMS)
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
