package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/service"
)

// DashboardService defines the queries behind the dashboard and analytics
// endpoints.
type DashboardService interface {
	Overview(ctx context.Context) (service.Overview, error)
	ActivityFeed(ctx context.Context, limit int) ([]domain.Activity, error)
	ProfitChart(ctx context.Context, window time.Duration) ([]service.ProfitPoint, error)
	Summary(ctx context.Context) (service.Summary, error)
	ProfitByAgent(ctx context.Context) ([]service.AgentProfit, error)
}

// DashboardHandler serves /api/dashboard and /api/analytics.
type DashboardHandler struct {
	svc    DashboardService
	logger *slog.Logger
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(svc DashboardService, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger}
}

// Overview returns the headline totals and the agents.
// GET /api/dashboard/overview
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Overview(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch dashboard data")
		return
	}
	out.Agents = emptyIfNil(out.Agents)
	writeJSON(w, http.StatusOK, out)
}

// ActivityFeed returns the newest activity across all agents.
// GET /api/dashboard/activity-feed?limit=50
func (h *DashboardHandler) ActivityFeed(w http.ResponseWriter, r *http.Request) {
	acts, err := h.svc.ActivityFeed(r.Context(), parseLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch activity feed")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(acts))
}

// ProfitChart returns successful trades in the requested range.
// GET /api/dashboard/profit-chart?range=24h|7d|30d|all
func (h *DashboardHandler) ProfitChart(w http.ResponseWriter, r *http.Request) {
	points, err := h.svc.ProfitChart(r.Context(), service.ParseRange(r.URL.Query().Get("range")))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch profit chart data")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(points))
}

// Summary aggregates the whole trade history.
// GET /api/analytics/summary
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch analytics")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ProfitByAgent breaks successful profit down per agent.
// GET /api/analytics/profit-by-agent
func (h *DashboardHandler) ProfitByAgent(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ProfitByAgent(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch profit by agent")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(rows))
}
