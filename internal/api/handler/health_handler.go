package handler

import (
	"net/http"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// StatusSource reports the state of every queue monitor.
type StatusSource interface {
	Status() []domain.MonitorStatus
}

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	monitors StatusSource
}

func NewHealthHandler(monitors StatusSource) *HealthHandler {
	return &HealthHandler{monitors: monitors}
}

// Health handles GET /health. The process is live while the HTTP server
// answers; terminated monitors are reported but do not fail the probe.
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	terminated := 0
	statuses := h.monitors.Status()
	for _, st := range statuses {
		if st.State == domain.StateTerminated.String() {
			terminated++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queues":     len(statuses),
		"terminated": terminated,
	})
}
