package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetkeeper/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusReportsTotalsAndHealthyCount(t *testing.T) {
	registry := worker.NewRegistry(5000)
	w1 := worker.New(5001, "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w1)
	registry.SetHealthProbe(w1.ID, true, 5)

	w2 := worker.New(5002, "fleetkeeper-worker", registry.NextSeq())
	registry.Insert(w2)
	// left unhealthy/Starting

	h := NewStatusHandler(registry, nil, "subprocess", "")

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/lb-status", nil)

	h.Status(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)
	assert.Contains(t, rec.Body.String(), `"healthy":1`)
}

func TestHealthReportsUptimeAndInstanceCounts(t *testing.T) {
	registry := worker.NewRegistry(5000)
	h := NewStatusHandler(registry, nil, "subprocess", "")

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}
