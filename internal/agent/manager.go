package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/deepsentinel/internal/arbitrage"
	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/metrics"
)

const (
	bootstrapLockTTL     = 30 * time.Second
	bootstrapLockRetries = 20
	bootstrapLockBackoff = 250 * time.Millisecond
)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Store domain.AgentStore
	// Locks guards bootstrap across processes sharing a database. Optional.
	Locks    domain.LockManager
	Sink     domain.EventSink
	Maker    decision.Maker
	NewVenue func() domain.Venue
	Detector *arbitrage.Detector
	Metrics  *metrics.Metrics
	Options  Options
	// AutoStart starts every registered agent StartDelay after Run begins.
	AutoStart  bool
	StartDelay time.Duration
	Logger     *slog.Logger
}

// Spec describes an agent to bootstrap.
type Spec struct {
	Kind   domain.AgentKind
	Name   string
	Config domain.AgentConfig
}

// Manager owns the runners of this process and is the control surface used
// by the HTTP API.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	runners map[string]*Runner
	base    context.Context
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Logger = logger
	if cfg.Detector == nil {
		cfg.Detector = arbitrage.NewDetector(logger)
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "agent_manager")),
		runners: make(map[string]*Runner),
		base:    context.Background(),
	}
}

// Bootstrap ensures exactly one agent record exists for spec.Kind and
// registers a runner for it. An existing record keeps its configuration and
// statistics. A record left active by a previous process is restored as
// paused, since nothing is running it anymore.
func (m *Manager) Bootstrap(ctx context.Context, spec Spec) (domain.Agent, error) {
	if r := m.runnerByKind(spec.Kind); r != nil {
		return r.Snapshot(), nil
	}

	if m.cfg.Locks != nil {
		unlock, err := m.acquireBootstrapLock(ctx, spec.Kind)
		if err != nil {
			return domain.Agent{}, err
		}
		defer unlock()
	}

	agent, err := m.cfg.Store.FindByKind(ctx, spec.Kind)
	switch {
	case err == nil:
		if agent.Status == domain.AgentStatusActive {
			agent.Status = domain.AgentStatusPaused
			agent.UpdatedAt = time.Now()
			if err := m.cfg.Store.Update(ctx, agent); err != nil {
				return domain.Agent{}, fmt.Errorf("agent: bootstrap %s: %w", spec.Kind, err)
			}
		}
		m.logger.InfoContext(ctx, "agent restored",
			slog.String("agent_id", agent.ID),
			slog.String("status", string(agent.Status)),
			slog.Int64("opportunities_found", agent.Statistics.OpportunitiesFound),
		)
	case errors.Is(err, domain.ErrNotFound):
		if err := spec.Config.Validate(); err != nil {
			return domain.Agent{}, fmt.Errorf("agent: bootstrap %s: %w", spec.Kind, err)
		}
		now := time.Now()
		agent = domain.Agent{
			ID:        uuid.New().String(),
			Name:      spec.Name,
			Kind:      spec.Kind,
			Status:    domain.AgentStatusIdle,
			Config:    spec.Config,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.cfg.Store.Create(ctx, agent); err != nil {
			return domain.Agent{}, fmt.Errorf("agent: bootstrap %s: %w", spec.Kind, err)
		}
		m.logger.InfoContext(ctx, "agent created",
			slog.String("agent_id", agent.ID),
			slog.String("name", agent.Name),
		)
	default:
		return domain.Agent{}, fmt.Errorf("agent: bootstrap %s: %w", spec.Kind, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.runners[agent.ID]; ok {
		return existing.Snapshot(), nil
	}
	m.runners[agent.ID] = NewRunner(agent, Deps{
		Venue:    m.cfg.NewVenue(),
		Detector: m.cfg.Detector,
		Maker:    m.cfg.Maker,
		Sink:     m.cfg.Sink,
		Metrics:  m.cfg.Metrics,
		Logger:   m.cfg.Logger,
	}, m.cfg.Options)
	m.cfg.Metrics.Status(agent.ID, string(agent.Status), statusLabels)
	return agent, nil
}

func (m *Manager) acquireBootstrapLock(ctx context.Context, kind domain.AgentKind) (func(), error) {
	key := "agent:bootstrap:" + string(kind)
	for attempt := 0; ; attempt++ {
		unlock, err := m.cfg.Locks.Acquire(ctx, key, bootstrapLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || attempt >= bootstrapLockRetries {
			return nil, fmt.Errorf("agent: bootstrap lock %s: %w", kind, err)
		}
		if !sleep(ctx, bootstrapLockBackoff) {
			return nil, fmt.Errorf("agent: bootstrap lock %s: %w", kind, ctx.Err())
		}
	}
}

func (m *Manager) runnerByKind(kind domain.AgentKind) *Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runners {
		if r.Snapshot().Kind == kind {
			return r
		}
	}
	return nil
}

func (m *Manager) runner(id string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (m *Manager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base
}

// Get returns the live state of one agent.
func (m *Manager) Get(_ context.Context, id string) (domain.Agent, error) {
	r, err := m.runner(id)
	if err != nil {
		return domain.Agent{}, err
	}
	return r.Snapshot(), nil
}

// List returns the live state of every registered agent, oldest first.
func (m *Manager) List(_ context.Context) []domain.Agent {
	m.mu.RLock()
	out := make([]domain.Agent, 0, len(m.runners))
	for _, r := range m.runners {
		out = append(out, r.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Start starts the agent's loop. The loop outlives ctx; it ends on Stop or
// when Run returns. Once Run's context is done, Start fails with
// domain.ErrShuttingDown.
func (m *Manager) Start(ctx context.Context, id string) (domain.Agent, error) {
	r, err := m.runner(id)
	if err != nil {
		return domain.Agent{}, err
	}
	base := m.baseContext()
	if base.Err() != nil {
		return domain.Agent{}, fmt.Errorf("agent: start %s: %w", id, domain.ErrShuttingDown)
	}
	if err := r.Start(base); err != nil {
		return domain.Agent{}, err
	}
	m.logger.DebugContext(ctx, "start requested", slog.String("agent_id", id))
	return r.Snapshot(), nil
}

// Stop pauses the agent.
func (m *Manager) Stop(ctx context.Context, id string) (domain.Agent, error) {
	r, err := m.runner(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := r.Stop(ctx); err != nil {
		return domain.Agent{}, err
	}
	return r.Snapshot(), nil
}

// UpdateConfig validates cfg, applies it to the running agent and persists
// it.
func (m *Manager) UpdateConfig(ctx context.Context, id string, cfg domain.AgentConfig) (domain.Agent, error) {
	r, err := m.runner(id)
	if err != nil {
		return domain.Agent{}, err
	}
	agent, err := r.SetConfig(cfg)
	if err != nil {
		return domain.Agent{}, err
	}
	if err := m.cfg.Store.UpdateConfig(ctx, id, cfg); err != nil {
		return domain.Agent{}, fmt.Errorf("agent: update config %s: %w", id, err)
	}
	m.logger.InfoContext(ctx, "agent config updated",
		slog.String("agent_id", id),
		slog.Float64("min_spread_pct", cfg.MinSpreadPct),
		slog.Float64("max_trade_size", cfg.MaxTradeSize),
		slog.Float64("execution_delay_seconds", cfg.ExecutionDelaySeconds),
	)
	return agent, nil
}

// Run makes ctx the parent of every loop, optionally auto-starts the
// registered agents and blocks until ctx is cancelled. On return every
// active agent has been paused and its loop has exited.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()

	if m.cfg.AutoStart {
		if sleep(ctx, m.cfg.StartDelay) {
			for _, a := range m.List(ctx) {
				if a.Status == domain.AgentStatusActive {
					continue
				}
				if _, err := m.Start(ctx, a.ID); err != nil {
					m.logger.WarnContext(ctx, "auto-start failed",
						slog.String("agent_id", a.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	<-ctx.Done()
	m.shutdown()
	return ctx.Err()
}

func (m *Manager) shutdown() {
	ctx := context.Background()
	m.mu.RLock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.RUnlock()

	for _, r := range runners {
		if r.active() {
			if err := r.Stop(ctx); err != nil {
				m.logger.WarnContext(ctx, "stop on shutdown failed", slog.String("error", err.Error()))
			}
		}
		if done := r.Done(); done != nil {
			<-done
		}
	}
	m.logger.InfoContext(ctx, "agents stopped", slog.Int("count", len(runners)))
}
