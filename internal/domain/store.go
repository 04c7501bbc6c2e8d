package domain

import (
	"context"
	"time"
)

// AgentStore persists agents. Agents are never deleted. Update writes the
// status and statistics; configuration changes go through UpdateConfig.
type AgentStore interface {
	Create(ctx context.Context, agent Agent) error
	Update(ctx context.Context, agent Agent) error
	UpdateConfig(ctx context.Context, id string, cfg AgentConfig) error
	GetByID(ctx context.Context, id string) (Agent, error)
	FindByKind(ctx context.Context, kind AgentKind) (Agent, error)
	List(ctx context.Context) ([]Agent, error)
}

// OpportunityStore persists detected opportunities. Upsert inserts a new
// record or moves an existing one to rec.Status.
type OpportunityStore interface {
	Upsert(ctx context.Context, rec OpportunityRecord) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]OpportunityRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]OpportunityRecord, error)
}

// TradeStore persists settlement attempts.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	List(ctx context.Context, filter TradeFilter) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// ActivityStore persists the activity feed.
type ActivityStore interface {
	Insert(ctx context.Context, act Activity) error
	ListRecent(ctx context.Context, agentID string, limit int) ([]Activity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Activity, error)
}
