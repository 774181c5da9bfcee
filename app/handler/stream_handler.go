package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fleetkeeper/internal/worker"
	"fleetkeeper/pkg/logger"
)

const streamPushInterval = 2 * time.Second

// StreamHandler serves GET /lb-status/stream: a supplemented, read-only
// live status feed for operators watching the pool, pushed over a
// websocket. It does not change dispatch or scaling semantics.
type StreamHandler struct {
	Registry *worker.Registry
	upgrader websocket.Upgrader
}

// NewStreamHandler builds a StreamHandler.
func NewStreamHandler(registry *worker.Registry) *StreamHandler {
	return &StreamHandler{
		Registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream upgrades the connection and pushes a JSON status snapshot on a
// fixed cadence until the client disconnects.
func (h *StreamHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("lb-status stream: upgrade failed: " + err.Error())
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			snapshot := h.Registry.Snapshot()
			healthy := 0
			for _, w := range snapshot {
				if w.IsDispatchable() {
					healthy++
				}
			}
			if err := conn.WriteJSON(map[string]any{
				"total":   len(snapshot),
				"healthy": healthy,
				"at":      time.Now(),
			}); err != nil {
				return
			}
		}
	}
}
