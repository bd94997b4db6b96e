package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one backing service.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler reports liveness and the reachability of backing services.
type HealthHandler struct {
	version string
	checks  []HealthCheck
}

func NewHealthHandler(version string, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

// Health returns 200 when every backing service is reachable, 503 otherwise.
// Per-service status is always included so operators can see which one broke.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			services[c.Name] = "unreachable: " + err.Error()
			healthy = false
		} else {
			services[c.Name] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":   state,
		"version":  h.version,
		"services": services,
	})
}
