package handlers

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	router  ToolRouter
	version string
	started time.Time
}

func NewHealthHandler(router ToolRouter, version string) *HealthHandler {
	return &HealthHandler{router: router, version: version, started: time.Now()}
}

// Handle handles GET /health. It only reports that the process is serving.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respond(w, r, map[string]any{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	}, http.StatusOK)
}

// HandleReport handles GET /api/v1/health, answering 503 while any server
// is degraded.
func (h *HealthHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	report := h.router.GetHealthReport()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	respond(w, r, report, status)
}
