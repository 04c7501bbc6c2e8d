package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// StoredAgents serves agent queries from the database for processes that do
// not run agents themselves (server mode). Control calls are rejected with
// domain.ErrReadOnly; statuses reflect what the agent process last wrote.
type StoredAgents struct {
	store  domain.AgentStore
	logger *slog.Logger
}

// NewStoredAgents creates a StoredAgents.
func NewStoredAgents(store domain.AgentStore, logger *slog.Logger) *StoredAgents {
	return &StoredAgents{store: store, logger: logger.With(slog.String("component", "stored_agents"))}
}

// List returns every persisted agent, oldest first. Store errors are logged
// and yield an empty list.
func (s *StoredAgents) List(ctx context.Context) []domain.Agent {
	agents, err := s.store.List(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "stored_agents: list failed", slog.String("error", err.Error()))
		return nil
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].CreatedAt.Before(agents[j].CreatedAt) })
	return agents
}

// Get returns one persisted agent.
func (s *StoredAgents) Get(ctx context.Context, id string) (domain.Agent, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, err)
	}
	return a, nil
}

func (s *StoredAgents) Start(context.Context, string) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrReadOnly
}

func (s *StoredAgents) Stop(context.Context, string) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrReadOnly
}

func (s *StoredAgents) UpdateConfig(context.Context, string, domain.AgentConfig) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrReadOnly
}
