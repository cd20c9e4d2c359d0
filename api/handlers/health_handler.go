package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Readiness reports whether the download controller accepts requests
type Readiness interface {
	Ready() bool
}

// RecordCounter counts persisted downloads
type RecordCounter interface {
	Count() (int64, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	readiness Readiness
	records   RecordCounter
}

// NewHealthHandler creates a new health handler. records may be nil.
func NewHealthHandler(readiness Readiness, records RecordCounter) *HealthHandler {
	return &HealthHandler{
		readiness: readiness,
		records:   records,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Controller struct {
		Ready     bool  `json:"ready"`
		Downloads int64 `json:"downloads"`
	} `json:"controller"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	response.Controller.Ready = h.readiness.Ready()
	if h.records != nil {
		if n, err := h.records.Count(); err == nil {
			response.Controller.Downloads = n
		}
	}

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.readiness.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "download controller not started",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
