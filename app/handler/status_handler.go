package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetkeeper/internal/autoscaler"
	"fleetkeeper/internal/worker"
)

// StatusHandler serves the controller's two reserved, never-proxied
// endpoints: GET /lb-status and GET /health (spec.md §4.G, §6).
type StatusHandler struct {
	Registry   *worker.Registry
	Autoscaler *autoscaler.Autoscaler
	StartedAt  time.Time
	Backend    string
	Image      string
}

// NewStatusHandler builds a StatusHandler.
func NewStatusHandler(registry *worker.Registry, as *autoscaler.Autoscaler, backend, image string) *StatusHandler {
	return &StatusHandler{
		Registry:   registry,
		Autoscaler: as,
		StartedAt:  time.Now(),
		Backend:    backend,
		Image:      image,
	}
}

type workerStatus struct {
	ID             string  `json:"id"`
	RuntimeID      string  `json:"runtime_id,omitempty"`
	Name           string  `json:"name,omitempty"`
	Port           int     `json:"port"`
	Healthy        bool    `json:"healthy"`
	Phase          string  `json:"phase"`
	ActiveRequests int     `json:"active_requests"`
	TotalRequests  int64   `json:"total_requests"`
	ResponseTimeMS int64   `json:"response_time_ms"`
	Load           float64 `json:"load"`
}

type scalingEvent struct {
	At      time.Time `json:"at"`
	Rule    int       `json:"rule"`
	Action  int       `json:"action"`
	Before  int       `json:"before"`
	After   int       `json:"after"`
	AvgLoad float64   `json:"avg_load"`
}

// Status returns the status snapshot from spec.md §4.G, supplemented with
// the bounded scaling-event log (an additive feature; see SPEC_FULL §4).
func (h *StatusHandler) Status(c *gin.Context) {
	snapshot := h.Registry.Snapshot()

	healthy := 0
	workers := make([]workerStatus, 0, len(snapshot))
	for _, w := range snapshot {
		if w.IsDispatchable() {
			healthy++
		}
		runtimeID := ""
		name := ""
		if w.RuntimeHandle != nil {
			runtimeID = w.RuntimeHandle.ID
			name = w.RuntimeHandle.Name
		}
		workers = append(workers, workerStatus{
			ID:             w.ID,
			RuntimeID:      runtimeID,
			Name:           name,
			Port:           w.Port,
			Healthy:        w.Healthy,
			Phase:          string(w.Phase),
			ActiveRequests: w.ActiveRequests,
			TotalRequests:  w.TotalRequests,
			ResponseTimeMS: w.ResponseTimeMS,
			Load:           w.Load(),
		})
	}

	var events []scalingEvent
	if h.Autoscaler != nil {
		for _, e := range h.Autoscaler.RecentEvents() {
			events = append(events, scalingEvent{
				At:      e.At,
				Rule:    int(e.Rule),
				Action:  int(e.Action),
				Before:  e.Before,
				After:   e.After,
				AvgLoad: e.AvgLoad,
			})
		}
	}

	body := gin.H{
		"total":   len(snapshot),
		"healthy": healthy,
		"workers": workers,
		"events":  events,
	}
	if h.Image != "" {
		body["image"] = h.Image
	}

	c.JSON(http.StatusOK, body)
}

// Health returns the controller's own liveness probe. Optional per spec.md
// §6, but always registered here regardless of backend.
func (h *StatusHandler) Health(c *gin.Context) {
	snapshot := h.Registry.Snapshot()
	healthy := 0
	for _, w := range snapshot {
		if w.IsDispatchable() {
			healthy++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.StartedAt).Seconds(),
		"instances": gin.H{
			"total":   len(snapshot),
			"healthy": healthy,
		},
	})
}
