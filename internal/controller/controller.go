// Package controller binds the Worker Runtime Adapter, Registry, Prober,
// Autoscaler, Dispatcher, and reverse-proxy data path together (spec.md
// §4.G). Grounded on cmd/app.go's Application struct: an ordered
// Initialize() step table, a Start() that launches the HTTP server and both
// periodic loops as goroutines tracked by a sync.WaitGroup, and a
// Shutdown(timeout) that cancels a root context, stops accepting
// connections, waits for in-flight work, then terminates every Worker.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fleetkeeper/app/handler"
	"fleetkeeper/app/router"
	"fleetkeeper/internal/autoscaler"
	"fleetkeeper/internal/dispatcher"
	"fleetkeeper/internal/jobs"
	"fleetkeeper/internal/prober"
	"fleetkeeper/internal/proxy"
	"fleetkeeper/internal/worker"
	"fleetkeeper/pkg/config"
	"fleetkeeper/pkg/logger"
	"fleetkeeper/pkg/runtime"
	"fleetkeeper/pkg/runtime/container"
	"fleetkeeper/pkg/runtime/subprocess"
)

const warmUpWindowContainer = 30 * time.Second
const warmUpWindowSubprocess = 10 * time.Second

// Controller is the pool controller's lifecycle orchestrator.
type Controller struct {
	cfg *config.Config

	adapter    runtime.Adapter
	registry   *worker.Registry
	prober     *prober.Prober
	autoscaler *autoscaler.Autoscaler
	dispatcher *dispatcher.Dispatcher
	proxy      *proxy.Proxy

	jobsManager *jobs.Manager
	httpServer  *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller bound to cfg.
func New(cfg *config.Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Initialize runs spec.md §4.G's initialize() sequence: orphan sweep,
// image prepare, wiring of the Prober/Autoscaler (which warm-up probing
// needs), then the minInstances warm-up. The periodic timers are not
// started here; Start does that.
func (c *Controller) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"runtime adapter", c.initAdapter},
		{"orphan sweep", c.initOrphanSweep},
		{"image prepare", c.initPrepare},
		{"registry", c.initRegistry},
		{"control loops", c.initControlLoops},
		{"minimum-instance warm-up", c.initMinInstances},
		{"http server", c.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(c.ctx, "initializing %s", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("initializing %s: %w", step.name, err)
		}
	}
	return nil
}

func (c *Controller) initAdapter() error {
	rt := c.cfg.Runtime
	switch rt.Backend {
	case "subprocess":
		c.adapter = subprocess.New(rt.Interpreter, rt.EntryPath)
	case "docker":
		c.adapter = container.NewDockerAdapter(&rt)
	case "kubernetes":
		adapter, err := container.NewKubernetesAdapter(&rt)
		if err != nil {
			return err
		}
		c.adapter = adapter
	default:
		return fmt.Errorf("unknown runtime backend %q", rt.Backend)
	}
	return nil
}

func (c *Controller) initRegistry() error {
	c.registry = worker.NewRegistry(c.cfg.Pool.BasePort)
	return nil
}

// initOrphanSweep asks the Runtime Adapter for list_owned() and terminates
// each orphan — entities owned by a prior controller lifetime.
func (c *Controller) initOrphanSweep() error {
	owned, err := c.adapter.ListOwned(c.ctx)
	if err != nil {
		return fmt.Errorf("listing owned runtime entities: %w", err)
	}
	for _, name := range owned {
		logger.InfoCtx(c.ctx, "reclaiming orphan %s", name)
		if err := c.adapter.Terminate(c.ctx, &runtime.Handle{Name: name}); err != nil {
			logger.WarnCtx(c.ctx, "failed to terminate orphan %s: %v", name, err)
		}
	}
	return nil
}

func (c *Controller) initPrepare() error {
	return c.adapter.Prepare(c.ctx)
}

// initMinInstances spawns minInstances Workers concurrently; failures to
// spawn are logged but do not abort initialization.
func (c *Controller) initMinInstances() error {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Pool.MinInstances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.scaleUp(c.ctx); err != nil {
				logger.WarnCtx(c.ctx, "initial spawn failed: %v", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (c *Controller) initControlLoops() error {
	c.prober = prober.New(
		c.registry,
		c.cfg.Runtime.HealthEndpoint,
		time.Duration(c.cfg.Pool.HealthTimeoutMS)*time.Millisecond,
		time.Duration(c.cfg.Pool.CheckIntervalMS)*time.Millisecond,
		c.evictWorker,
	)

	c.autoscaler = autoscaler.New(c.registry, autoscaler.Bounds{
		MinInstances:       c.cfg.Pool.MinInstances,
		MaxInstances:       c.cfg.Pool.MaxInstances,
		ScaleUpThreshold:   c.cfg.Pool.ScaleUpThreshold,
		ScaleDownThreshold: c.cfg.Pool.ScaleDownThreshold,
		IdleTimeout:        time.Duration(c.cfg.Pool.IdleTimeoutMS) * time.Millisecond,
	}, time.Duration(c.cfg.Pool.CheckIntervalMS)*time.Millisecond)
	c.autoscaler.ScaleUp = c.scaleUp
	c.autoscaler.ScaleDown = c.scaleDown

	c.dispatcher = dispatcher.New(c.registry)
	c.proxy = proxy.New(c.dispatcher, c.registry)

	c.jobsManager = jobs.NewManager(c.ctx)
	c.jobsManager.Register(c.prober)
	c.jobsManager.Register(c.autoscaler)

	return nil
}

func (c *Controller) initHTTPServer() error {
	gin.SetMode(c.cfg.Server.Mode)
	engine := gin.New()

	statusHandler := handler.NewStatusHandler(c.registry, c.autoscaler, c.cfg.Runtime.Backend, c.cfg.Runtime.Image)
	proxyHandler := handler.NewProxyHandler(c.proxy)
	streamHandler := handler.NewStreamHandler(c.registry)

	r := router.NewRouter(statusHandler, proxyHandler, streamHandler)
	r.Setup(engine)

	c.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.cfg.Server.Port),
		Handler: engine,
	}
	return nil
}

// scaleUp allocates the next port, invokes the Runtime Adapter, inserts a
// Starting-phase Worker, and begins warm-up probing asynchronously so the
// autoscaler tick that triggered it returns promptly (spec.md §9: no
// rolling-retry of scale-up within a tick).
func (c *Controller) scaleUp(ctx context.Context) error {
	port := c.registry.NextPort()
	h, err := c.adapter.Create(ctx, port)
	if err != nil {
		return fmt.Errorf("creating worker on port %d: %w", port, err)
	}

	w := worker.New(port, c.cfg.Runtime.NamePrefix, c.registry.NextSeq())
	w.RuntimeHandle = h
	if h.Name != "" {
		w.Name = h.Name
	}
	c.registry.Insert(w)

	window := warmUpWindowSubprocess
	if c.cfg.Runtime.Backend != "subprocess" {
		window = warmUpWindowContainer
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if !c.prober.WarmUp(c.ctx, w, window) {
			logger.WarnCtx(c.ctx, "worker %s failed to warm up within %v, evicting", w.ID, window)
			c.evictWorker(w)
		}
	}()

	return nil
}

// scaleDown moves the candidate to Draining, invokes terminate, and removes
// it from the Pool regardless of termination success (I4).
func (c *Controller) scaleDown(ctx context.Context, candidate *worker.Worker) error {
	c.registry.SetPhase(candidate.ID, worker.PhaseDraining)
	err := c.adapter.Terminate(ctx, candidate.RuntimeHandle)
	c.registry.Remove(candidate.ID)
	if err != nil {
		logger.WarnCtx(ctx, "terminate failed for worker %s, removed from pool anyway: %v", candidate.ID, err)
	}
	return nil
}

// evictWorker is the shared eviction path used by the Prober (persistent-
// unhealthy) and by scaleUp's warm-up failure.
func (c *Controller) evictWorker(w *worker.Worker) {
	c.registry.SetPhase(w.ID, worker.PhaseDraining)
	if err := c.adapter.Terminate(c.ctx, w.RuntimeHandle); err != nil {
		logger.WarnCtx(c.ctx, "terminate failed for evicted worker %s: %v", w.ID, err)
	}
	c.registry.Remove(w.ID)
}

// Start launches the periodic job manager and the HTTP listener.
func (c *Controller) Start() error {
	c.jobsManager.Start()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.jobsManager.Wait()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.InfoCtx(c.ctx, "listening on %s", c.httpServer.Addr)
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(c.ctx, "http server error: %v", err)
		}
	}()

	return nil
}

// Shutdown stops timers, drains in-flight requests up to timeout, then
// concurrently terminates every remaining Worker.
func (c *Controller) Shutdown(timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.jobsManager.Stop()
	c.cancel()

	if err := c.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(c.ctx, "http server shutdown error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.WarnCtx(c.ctx, "shutdown timeout waiting for background work")
	}

	c.terminateAllWorkers(shutdownCtx)
	logger.Sync()
	return nil
}

func (c *Controller) terminateAllWorkers(ctx context.Context) {
	workers := c.registry.Snapshot()
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := c.adapter.Terminate(ctx, w.RuntimeHandle); err != nil {
				logger.WarnCtx(ctx, "terminate failed for worker %s during shutdown: %v", w.ID, err)
			}
			c.registry.Remove(w.ID)
		}(w)
	}
	wg.Wait()
}
