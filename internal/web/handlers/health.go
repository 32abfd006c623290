package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	version  string
	started  time.Time
	vectors  Pinger
	metadata Pinger
	now      func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, vectors, metadata Pinger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		started:  time.Now(),
		vectors:  vectors,
		metadata: metadata,
		now:      time.Now,
	}
}

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]componentHealth `json:"components"`
}

// Check handles GET /api/v1/health. Any unhealthy component answers 503.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		Components:    make(map[string]componentHealth, 2),
	}

	for name, p := range map[string]Pinger{"vector_store": h.vectors, "metadata_store": h.metadata} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Components[name] = componentHealth{Status: "unhealthy", Error: err.Error()}
			continue
		}
		resp.Components[name] = componentHealth{Status: "healthy"}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
