package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

var hunter = Spec{
	Kind:   domain.AgentKindArbitrageHunter,
	Name:   "Arbitrage Hunter",
	Config: domain.AgentConfig{MinSpreadPct: 0.5, MaxTradeSize: 100, ExecutionDelaySeconds: 2},
}

func newTestManager(store *memStore, mut func(*ManagerConfig)) *Manager {
	cfg := ManagerConfig{
		Store:    store,
		Sink:     newSink(),
		Maker:    decision.NewRule(),
		NewVenue: func() domain.Venue { return &fakeVenue{} },
		Options:  testOptions(),
		Logger:   discard(),
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewManager(cfg)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, nil)
	ctx := context.Background()

	first, err := m.Bootstrap(ctx, hunter)
	require.NoError(t, err)
	second, err := m.Bootstrap(ctx, hunter)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, domain.AgentStatusIdle, first.Status)
	assert.Equal(t, hunter.Config, first.Config)
	assert.Len(t, m.List(ctx), 1)

	// A second process over the same store finds the same record.
	other := newTestManager(store, nil)
	again, err := other.Bootstrap(ctx, hunter)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, store.creates)
}

func TestBootstrapRestoresStateAndPausesActive(t *testing.T) {
	store := newMemStore()
	stats := domain.Statistics{OpportunitiesFound: 10, SuccessfulTrades: 4, TotalProfit: 80, SuccessRate: 40}
	require.NoError(t, store.Create(context.Background(), domain.Agent{
		ID:         "persisted",
		Name:       "Arbitrage Hunter",
		Kind:       domain.AgentKindArbitrageHunter,
		Status:     domain.AgentStatusActive,
		Config:     domain.AgentConfig{MinSpreadPct: 1, MaxTradeSize: 5},
		Statistics: stats,
	}))

	m := newTestManager(store, nil)
	a, err := m.Bootstrap(context.Background(), hunter)
	require.NoError(t, err)

	assert.Equal(t, "persisted", a.ID)
	assert.Equal(t, domain.AgentStatusPaused, a.Status)
	assert.Equal(t, stats, a.Statistics)
	assert.Equal(t, 1.0, a.Config.MinSpreadPct)

	stored, err := store.GetByID(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPaused, stored.Status)
}

func TestBootstrapWaitsForLock(t *testing.T) {
	lock := &flakyLock{heldFor: 1}
	m := newTestManager(newMemStore(), func(c *ManagerConfig) { c.Locks = lock })

	_, err := m.Bootstrap(context.Background(), hunter)
	require.NoError(t, err)
	assert.Equal(t, 2, lock.attempts)
	assert.Equal(t, 1, lock.released)
}

func TestBootstrapRejectsInvalidDefaults(t *testing.T) {
	m := newTestManager(newMemStore(), nil)
	spec := hunter
	spec.Config.MaxTradeSize = 0

	_, err := m.Bootstrap(context.Background(), spec)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestManagerUnknownAgent(t *testing.T) {
	m := newTestManager(newMemStore(), nil)
	ctx := context.Background()

	_, err := m.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Start(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Stop(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.UpdateConfig(ctx, "nope", hunter.Config)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateConfigPersists(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, nil)
	ctx := context.Background()
	a, err := m.Bootstrap(ctx, hunter)
	require.NoError(t, err)

	_, err = m.UpdateConfig(ctx, a.ID, domain.AgentConfig{MinSpreadPct: -1, MaxTradeSize: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	stored, _ := store.GetByID(ctx, a.ID)
	assert.Equal(t, hunter.Config, stored.Config)

	next := domain.AgentConfig{MinSpreadPct: 1.2, MaxTradeSize: 250, ExecutionDelaySeconds: 0}
	updated, err := m.UpdateConfig(ctx, a.ID, next)
	require.NoError(t, err)
	assert.Equal(t, next, updated.Config)
	stored, _ = store.GetByID(ctx, a.ID)
	assert.Equal(t, next, stored.Config)
}

func TestStartStopThroughManager(t *testing.T) {
	m := newTestManager(newMemStore(), nil)
	ctx := context.Background()
	a, err := m.Bootstrap(ctx, hunter)
	require.NoError(t, err)

	started, err := m.Start(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusActive, started.Status)

	stopped, err := m.Stop(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPaused, stopped.Status)

	_, err = m.Stop(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRunAutoStartsAndPausesOnShutdown(t *testing.T) {
	m := newTestManager(newMemStore(), func(c *ManagerConfig) {
		c.AutoStart = true
		c.StartDelay = time.Millisecond
	})
	a, err := m.Bootstrap(context.Background(), hunter)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, _ := m.Get(context.Background(), a.ID)
		return got.Status == domain.AgentStatusActive
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusPaused, got.Status)
}

func TestStartAfterRunReturnsIsRefused(t *testing.T) {
	m := newTestManager(newMemStore(), nil)
	a, err := m.Bootstrap(context.Background(), hunter)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Run(ctx), context.Canceled)

	_, err = m.Start(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrShuttingDown)

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusIdle, got.Status)
}
