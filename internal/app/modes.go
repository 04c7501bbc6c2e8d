package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/deepsentinel/internal/agent"
	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/pipeline"
	"github.com/alanyoungcy/deepsentinel/internal/platform/deepbook"
	"github.com/alanyoungcy/deepsentinel/internal/platform/gemini"
	"github.com/alanyoungcy/deepsentinel/internal/server"
	"github.com/alanyoungcy/deepsentinel/internal/server/handler"
	"github.com/alanyoungcy/deepsentinel/internal/server/ws"
	"github.com/alanyoungcy/deepsentinel/internal/service"
)

const shutdownTimeout = 5 * time.Second

// AgentMode runs the agent loops and the background jobs without the HTTP
// API. Dashboards read the results from a separate server-mode process.
func (a *App) AgentMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting agent mode")

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startAgents(ctx, g, deps); err != nil {
		return fmt.Errorf("agent mode: %w", err)
	}
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the HTTP API over the persisted state. Agent control
// endpoints answer with a conflict since no loop runs here.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	stored := service.NewStoredAgents(deps.AgentStore, a.logger)
	a.startHTTPServer(ctx, g, deps, stored, stored)
	return g.Wait()
}

// FullMode runs the agents, the background jobs and the HTTP API in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	mgr, err := a.startAgents(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startArchive(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, mgr, mgr)
	return g.Wait()
}

// startAgents builds the decision maker and the simulated venues, bootstraps
// the arbitrage agent and runs the manager in g.
func (a *App) startAgents(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*agent.Manager, error) {
	maker, err := a.newDecisionMaker()
	if err != nil {
		return nil, err
	}

	vc := a.cfg.Venue
	pool := newVenuePool(deepbook.Config{
		BasePrice:      vc.BasePrice,
		BaseJitter:     vc.BaseJitter,
		PremiumPool:    vc.PremiumPool,
		PremiumSpread:  vc.PremiumSpread,
		DiscountPool:   vc.DiscountPool,
		DiscountSpread: vc.DiscountSpread,
		ReferencePool:  vc.ReferencePool,
		SettleLatency:  vc.SettleLatency.Duration,
		SuccessRate:    vc.SuccessRate,
		PoolDepth:      vc.PoolDepth,
		ResultTTL:      vc.ResultTTL.Duration,
		Seed:           vc.Seed,
	}, a.logger)

	ac := a.cfg.Agent
	mgr := agent.NewManager(agent.ManagerConfig{
		Store:    deps.AgentStore,
		Locks:    deps.LockManager,
		Sink:     deps.Events,
		Maker:    maker,
		NewVenue: pool.New,
		Metrics:  deps.Metrics,
		Options: agent.Options{
			ScanInterval:           ac.ScanInterval.Duration,
			ScanTimeout:            ac.ScanTimeout.Duration,
			DecideTimeout:          ac.DecideTimeout.Duration,
			SettleTimeout:          ac.SettleTimeout.Duration,
			MaxConsecutiveFailures: ac.MaxConsecutiveFailures,
			ProfitToken:            ac.ProfitToken,
			GasEstimate:            ac.GasEstimate,
		},
		AutoStart:  ac.AutoStart,
		StartDelay: ac.StartDelay.Duration,
		Logger:     a.logger,
	})

	bootstrapped, err := mgr.Bootstrap(ctx, agent.Spec{
		Kind: domain.AgentKindArbitrageHunter,
		Name: ac.Name,
		Config: domain.AgentConfig{
			MinSpreadPct:          ac.MinSpreadPct,
			MaxTradeSize:          ac.MaxTradeSize,
			ExecutionDelaySeconds: ac.ExecutionDelaySeconds,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap agent: %w", err)
	}
	a.logger.InfoContext(ctx, "agent ready",
		slog.String("agent_id", bootstrapped.ID),
		slog.String("name", bootstrapped.Name),
		slog.String("decision", string(maker.Kind())),
		slog.Bool("auto_start", ac.AutoStart),
	)

	g.Go(func() error {
		return mgr.Run(ctx)
	})

	g.Go(func() error {
		return pipeline.Every(ctx, vc.PruneInterval.Duration, func(context.Context) {
			if n := pool.Prune(); n > 0 {
				a.logger.DebugContext(ctx, "pruned settlement results", slog.Int("removed", n))
			}
		})
	})

	return mgr, nil
}

// newDecisionMaker returns the configured maker. Only the model variant
// talks to Gemini.
func (a *App) newDecisionMaker() (decision.Maker, error) {
	kind, err := decision.ParseKind(a.cfg.Decision.Kind)
	if err != nil {
		return nil, err
	}

	var gen decision.TextGenerator
	if kind == decision.KindModel {
		gc := a.cfg.Gemini
		client, err := gemini.NewClient(gemini.Config{
			BaseURL:           gc.BaseURL,
			APIKey:            gc.APIKey,
			Model:             gc.Model,
			Temperature:       gc.Temperature,
			Timeout:           gc.Timeout.Duration,
			RequestsPerMinute: gc.RequestsPerMinute,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		gen = client
	}

	return decision.New(kind, gen, decision.Assumptions{
		GasCost:     a.cfg.Decision.GasCost,
		SlippagePct: a.cfg.Decision.SlippagePct,
		ProfitToken: a.cfg.Agent.ProfitToken,
	}, a.logger)
}

// startArchive schedules the JSONL export when archiving is enabled.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	a.logger.InfoContext(ctx, "archive job scheduled",
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	g.Go(func() error {
		return job.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
	})
}

// startHTTPServer adds the websocket hub, the HTTP server and its shutdown
// goroutine to g. control answers the agent endpoints; source feeds the
// dashboard aggregates.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	control handler.AgentControl,
	source service.AgentSource,
) {
	dashboard := service.NewDashboardService(source, deps.TradeStore, deps.OpportunityStore, deps.ActivityStore)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:        a.cfg.Mode,
		ReplayCount: a.cfg.Server.ReplayCount,
		StartedAt:   time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Agents:    handler.NewAgentHandler(control, dashboard, a.logger),
		Trades:    handler.NewTradeHandler(deps.TradeStore, a.logger),
		Dashboard: handler.NewDashboardHandler(dashboard, a.logger),
	}, server.Deps{
		Hub:      hub,
		Limiter:  deps.RateLimiter,
		Gatherer: deps.Registry,
	}, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", sc.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

var (
	_ handler.AgentControl = (*agent.Manager)(nil)
	_ handler.AgentControl = (*service.StoredAgents)(nil)
	_ service.AgentSource  = (*agent.Manager)(nil)
	_ service.AgentSource  = (*service.StoredAgents)(nil)
)
