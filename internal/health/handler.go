package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler serves the liveness and readiness endpoints
type Handler struct {
	monitor   *Monitor
	startedAt time.Time
}

// NewHandler creates a health handler over the monitor's view
func NewHandler(monitor *Monitor) *Handler {
	return &Handler{
		monitor:   monitor,
		startedAt: time.Now(),
	}
}

// Register mounts the health endpoints on a mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Live)
	mux.HandleFunc("/health/live", h.Live)
	mux.HandleFunc("/health/ready", h.Ready)
}

// Live reports process liveness
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// Ready reports per-pool backend health; 503 until every pool has a
// healthy backend.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	services := h.monitor.Snapshot()

	status := http.StatusOK
	overall := "ready"
	for _, s := range services {
		if !s.Ready {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}

	writeJSON(w, status, map[string]any{
		"status":   overall,
		"services": services,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
