package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/service"
)

// AgentControl is the part of the agent manager the API drives.
type AgentControl interface {
	List(ctx context.Context) []domain.Agent
	Start(ctx context.Context, id string) (domain.Agent, error)
	Stop(ctx context.Context, id string) (domain.Agent, error)
	UpdateConfig(ctx context.Context, id string, cfg domain.AgentConfig) (domain.Agent, error)
}

// AgentDetailer loads an agent with its recent history.
type AgentDetailer interface {
	AgentDetail(ctx context.Context, id string) (service.AgentDetail, error)
}

// AgentHandler serves the agent endpoints.
type AgentHandler struct {
	agents AgentControl
	detail AgentDetailer
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents AgentControl, detail AgentDetailer, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, detail: detail, logger: logger}
}

type updateConfigRequest struct {
	Config *domain.AgentConfig `json:"config"`
}

type controlResponse struct {
	Success bool         `json:"success"`
	Agent   domain.Agent `json:"agent"`
}

// ListAgents returns every agent with its live status and statistics.
// GET /api/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, emptyIfNil(h.agents.List(r.Context())))
}

// GetAgent returns one agent with its latest trades, opportunities and
// activity.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	detail, err := h.detail.AgentDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to fetch agent details")
		return
	}
	detail.Trades = emptyIfNil(detail.Trades)
	detail.Opportunities = emptyIfNil(detail.Opportunities)
	detail.Activities = emptyIfNil(detail.Activities)
	writeJSON(w, http.StatusOK, detail)
}

// UpdateConfig replaces the agent's configuration. The running loop picks
// it up on its next iteration.
// PUT /api/agents/{id}/config
func (h *AgentHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Config == nil {
		writeError(w, http.StatusBadRequest, "config is required")
		return
	}

	agent, err := h.agents.UpdateConfig(r.Context(), r.PathValue("id"), *req.Config)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update agent configuration")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// StartAgent starts the agent's monitoring loop.
// POST /api/agents/{id}/start
func (h *AgentHandler) StartAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agents.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to start agent")
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Success: true, Agent: agent})
}

// StopAgent pauses the agent.
// POST /api/agents/{id}/stop
func (h *AgentHandler) StopAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agents.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to stop agent")
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Success: true, Agent: agent})
}
