package handler

import (
	"net/http"
	"time"
)

// QueueStats reports job queue occupancy
type QueueStats interface {
	Len() int
	Cap() int
}

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	queue     QueueStats
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(queue QueueStats, version string) *HealthHandler {
	return &HealthHandler{
		queue:     queue,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp"`
	Queued        int    `json:"queued"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready    bool `json:"ready"`
	Queued   int  `json:"queued"`
	Capacity int  `json:"capacity"`
}

// Health returns the service health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Timestamp:     time.Now().Unix(),
		Queued:        h.queue.Len(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready reports whether the agent can accept more jobs
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	queued, capacity := h.queue.Len(), h.queue.Cap()
	ready := queued < capacity

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Ready:    ready,
		Queued:   queued,
		Capacity: capacity,
	})
}
