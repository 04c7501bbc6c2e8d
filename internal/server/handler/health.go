package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Checker
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil, in which case
// the endpoint only reports liveness.
func NewHealthHandler(checks map[string]Checker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck responds with the process status and, when configured, the
// status of each dependency. Any failing dependency yields a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	code := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			code = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	resp["dependencies"] = deps
	writeJSON(w, code, resp)
}
