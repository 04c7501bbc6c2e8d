package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/config"
	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/platform/deepbook"
)

func testApp(mutate func(*config.Config)) *App {
	cfg := config.Defaults()
	mutate(&cfg)
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewDecisionMaker(t *testing.T) {
	m, err := testApp(func(*config.Config) {}).newDecisionMaker()
	require.NoError(t, err)
	assert.Equal(t, decision.KindRule, m.Kind())

	m, err = testApp(func(c *config.Config) {
		c.Decision.Kind = "Model"
		c.Gemini.APIKey = "k"
	}).newDecisionMaker()
	require.NoError(t, err)
	assert.Equal(t, decision.KindModel, m.Kind())

	_, err = testApp(func(c *config.Config) { c.Decision.Kind = "model" }).newDecisionMaker()
	assert.ErrorContains(t, err, "api key is required")

	_, err = testApp(func(c *config.Config) { c.Decision.Kind = "oracle" }).newDecisionMaker()
	assert.Error(t, err)
}

func TestVenuePoolGivesEachAgentItsOwnSession(t *testing.T) {
	cfg := deepbook.DefaultConfig()
	cfg.SettleLatency = 0
	cfg.SuccessRate = 1
	cfg.ResultTTL = time.Nanosecond
	cfg.Seed = 7
	pool := newVenuePool(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, second := pool.New(), pool.New()
	assert.NotSame(t, first, second)

	opp := domain.Opportunity{ID: "opp-1"}
	a, err := first.Settle(context.Background(), opp, 1)
	require.NoError(t, err)
	b, err := second.Settle(context.Background(), opp, 1)
	require.NoError(t, err)
	// Sessions keep separate ledgers, so the same ID settles in each.
	assert.NotEqual(t, a.Reference, b.Reference)

	time.Sleep(time.Millisecond)
	assert.Equal(t, 2, pool.Prune())
	assert.Zero(t, pool.Prune())
}
