// Package agent runs the polling loop of a trading agent: it fetches quotes,
// detects opportunities, asks a decision maker and settles the opportunities
// it is told to execute. Status and statistics live in memory and are
// persisted through a domain.EventSink.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/deepsentinel/internal/arbitrage"
	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/metrics"
)

// Options are the process-level loop settings shared by every runner.
type Options struct {
	ScanInterval  time.Duration
	ScanTimeout   time.Duration
	DecideTimeout time.Duration
	SettleTimeout time.Duration
	// MaxConsecutiveFailures moves the agent to error after that many failed
	// iterations in a row. Zero keeps retrying forever.
	MaxConsecutiveFailures int
	ProfitToken            string
	GasEstimate            float64
}

// DefaultOptions returns the production loop settings.
func DefaultOptions() Options {
	return Options{
		ScanInterval:           5 * time.Second,
		ScanTimeout:            10 * time.Second,
		DecideTimeout:          20 * time.Second,
		SettleTimeout:          30 * time.Second,
		MaxConsecutiveFailures: 5,
		ProfitToken:            "SUI",
		GasEstimate:            0.001,
	}
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Venue    domain.Venue
	Detector *arbitrage.Detector
	Maker    decision.Maker
	Sink     domain.EventSink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

var statusLabels = []string{
	string(domain.AgentStatusIdle),
	string(domain.AgentStatusActive),
	string(domain.AgentStatusPaused),
	string(domain.AgentStatusError),
}

// Runner owns one agent. The loop goroutine is the only writer of the
// agent's statistics; Start, Stop and SetConfig are the only other writers
// of its state. Every write to the sink goes through persist.
type Runner struct {
	venue    domain.Venue
	detector *arbitrage.Detector
	maker    decision.Maker
	sink     domain.EventSink
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	// ctrl serialises Start and Stop.
	ctrl sync.Mutex
	// persistMu orders RecordAgent calls; each one snapshots under it.
	persistMu sync.Mutex

	mu     sync.Mutex
	agent  domain.Agent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner for agent. The runner does not start until
// Start is called, whatever agent.Status says.
func NewRunner(agent domain.Agent, deps Deps, opts Options) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		venue:    deps.Venue,
		detector: deps.Detector,
		maker:    deps.Maker,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		opts:     opts,
		logger: logger.With(
			slog.String("component", "agent"),
			slog.String("agent_id", agent.ID),
		),
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
		agent: agent,
	}
}

// Snapshot returns a copy of the agent's current state.
func (r *Runner) Snapshot() domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent
}

// Done returns a channel closed when the most recently started loop exits.
// It is nil if the runner was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Start moves the agent to active and launches the polling loop as a child
// of ctx. Starting an active agent is a logged no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.ctrl.Lock()
	defer r.ctrl.Unlock()

	r.mu.Lock()
	status := r.agent.Status
	prev := r.done
	r.mu.Unlock()

	if status == domain.AgentStatusActive {
		r.logger.WarnContext(ctx, "agent already running")
		return nil
	}
	if !status.CanTransition(domain.AgentStatusActive) {
		return fmt.Errorf("agent: start from %s: %w", status, domain.ErrInvalidTransition)
	}
	// A loop stopped earlier may still be finishing a settlement.
	if prev != nil {
		<-prev
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.agent.Status = domain.AgentStatusActive
	r.agent.UpdatedAt = r.now()
	r.cancel = cancel
	r.done = done
	snap := r.agent
	r.mu.Unlock()

	emit := context.WithoutCancel(ctx)
	r.logger.InfoContext(ctx, "agent started", slog.String("name", snap.Name))
	r.publishStatus(emit)
	r.activity(emit, snap, domain.ActivityAgentStarted,
		fmt.Sprintf("%s has started monitoring pools", snap.Name), domain.LevelInfo, nil)

	go r.loop(loopCtx, done)
	return nil
}

// Stop pauses an active agent. The loop exits at its next cancellation
// point; an in-flight settlement is allowed to finish and be recorded.
func (r *Runner) Stop(ctx context.Context) error {
	r.ctrl.Lock()
	defer r.ctrl.Unlock()

	r.mu.Lock()
	if r.agent.Status != domain.AgentStatusActive {
		status := r.agent.Status
		r.mu.Unlock()
		return fmt.Errorf("agent: stop from %s: %w", status, domain.ErrInvalidTransition)
	}
	r.agent.Status = domain.AgentStatusPaused
	r.agent.UpdatedAt = r.now()
	cancel := r.cancel
	r.cancel = nil
	snap := r.agent
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	emit := context.WithoutCancel(ctx)
	r.logger.InfoContext(ctx, "agent stopped", slog.String("name", snap.Name))
	r.publishStatus(emit)
	r.activity(emit, snap, domain.ActivityAgentStopped,
		fmt.Sprintf("%s has been stopped", snap.Name), domain.LevelInfo, nil)
	return nil
}

// SetConfig validates and applies cfg. The running loop picks it up at its
// next iteration.
func (r *Runner) SetConfig(cfg domain.AgentConfig) (domain.Agent, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Agent{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent.Config = cfg
	r.agent.UpdatedAt = r.now()
	return r.agent, nil
}

func (r *Runner) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent.Status == domain.AgentStatusActive
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer r.release(ctx)

	failures := 0
	for ctx.Err() == nil {
		err := r.safeIterate(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			failures++
			snap := r.Snapshot()
			r.metrics.ScanError(snap.ID)
			r.logger.ErrorContext(ctx, "iteration failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			r.activity(context.WithoutCancel(ctx), snap, domain.ActivityError,
				"Error in agent: "+err.Error(), domain.LevelError, nil)
			if r.opts.MaxConsecutiveFailures > 0 && failures >= r.opts.MaxConsecutiveFailures {
				r.halt(ctx, failures, err)
				return
			}
		default:
			failures = 0
		}

		if !sleep(ctx, r.opts.ScanInterval) {
			return
		}
	}
}

// safeIterate turns a panic inside one iteration into an error so the loop
// keeps its retry semantics.
func (r *Runner) safeIterate(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "iteration panicked", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.iterate(ctx)
}

// halt moves an agent that keeps failing to error and ends its loop.
func (r *Runner) halt(ctx context.Context, failures int, cause error) {
	r.mu.Lock()
	if r.agent.Status != domain.AgentStatusActive {
		r.mu.Unlock()
		return
	}
	r.agent.Status = domain.AgentStatusError
	r.agent.UpdatedAt = r.now()
	cancel := r.cancel
	r.cancel = nil
	snap := r.agent
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	emit := context.WithoutCancel(ctx)
	r.logger.ErrorContext(ctx, "agent halted", slog.Int("consecutive_failures", failures))
	r.publishStatus(emit)
	r.activity(emit, snap, domain.ActivityError,
		fmt.Sprintf("%s halted after %d consecutive failed iterations: %v", snap.Name, failures, cause),
		domain.LevelError, map[string]any{"consecutiveFailures": failures})
}

// release pauses an agent whose loop ended because the parent context did.
// Stop and halt change the status before cancelling, so an agent that is
// still active here has nothing running it.
func (r *Runner) release(ctx context.Context) {
	r.mu.Lock()
	if r.agent.Status != domain.AgentStatusActive {
		r.mu.Unlock()
		return
	}
	r.agent.Status = domain.AgentStatusPaused
	r.agent.UpdatedAt = r.now()
	cancel := r.cancel
	r.cancel = nil
	snap := r.agent
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	emit := context.WithoutCancel(ctx)
	r.logger.InfoContext(emit, "agent paused on shutdown", slog.String("name", snap.Name))
	r.publishStatus(emit)
	r.activity(emit, snap, domain.ActivityAgentStopped,
		fmt.Sprintf("%s has been stopped", snap.Name), domain.LevelInfo, nil)
}

func (r *Runner) iterate(ctx context.Context) error {
	snap := r.Snapshot()
	cfg := snap.Config
	r.metrics.Scan(snap.ID)

	scanCtx, cancel := context.WithTimeout(ctx, r.opts.ScanTimeout)
	quotes, err := r.venue.Quotes(scanCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}

	opps := r.detector.Detect(ctx, quotes, cfg.MinSpreadPct, reporter{r})
	if len(opps) == 0 {
		return nil
	}
	r.persistStats(context.WithoutCancel(ctx))

	for _, opp := range opps {
		if ctx.Err() != nil || !r.active() {
			return nil
		}
		d := r.decide(ctx, snap.ID, opp)
		if !d.ShouldExecute {
			r.logger.DebugContext(ctx, "opportunity skipped",
				slog.String("opportunity_id", opp.ID),
				slog.String("reasoning", d.Reasoning),
			)
			r.sink.RecordOpportunity(context.WithoutCancel(ctx), domain.OpportunityRecord{
				Opportunity: opp,
				AgentID:     snap.ID,
				Status:      domain.OpportunitySkipped,
			})
			continue
		}
		r.execute(ctx, d, cfg)
	}
	return nil
}

// reporter hands detections to the runner as they are found.
type reporter struct{ r *Runner }

func (rep reporter) ReportOpportunity(ctx context.Context, opp domain.Opportunity) {
	r := rep.r
	r.mu.Lock()
	r.agent.Statistics.OpportunitiesFound++
	r.agent.Statistics.Recompute()
	snap := r.agent
	r.mu.Unlock()

	r.metrics.Opportunity(snap.ID)
	emit := context.WithoutCancel(ctx)
	r.sink.RecordOpportunity(emit, domain.OpportunityRecord{
		Opportunity: opp,
		AgentID:     snap.ID,
		Status:      domain.OpportunityAnalyzing,
	})
	r.sink.Publish(emit, domain.EventOpportunityDetected, domain.OpportunityEvent{
		AgentID:     snap.ID,
		AgentName:   snap.Name,
		Opportunity: opp,
	})
	r.activity(emit, snap, domain.ActivityOpportunityDetected,
		fmt.Sprintf("Arbitrage opportunity detected: %s / %s (%.2f%% spread)", opp.LegA.Name, opp.LegB.Name, opp.SpreadPct),
		domain.LevelInfo, map[string]any{"opportunityId": opp.ID, "spread": opp.SpreadPct})
}

func (r *Runner) decide(ctx context.Context, agentID string, opp domain.Opportunity) domain.Decision {
	dctx, cancel := context.WithTimeout(ctx, r.opts.DecideTimeout)
	defer cancel()

	start := time.Now()
	d := r.maker.Decide(dctx, opp)
	d.Opportunity = opp
	r.metrics.Decision(agentID, string(r.maker.Kind()), d.ShouldExecute, time.Since(start))
	return d
}

// execute waits out the configured delay and settles d.Opportunity once.
func (r *Runner) execute(ctx context.Context, d domain.Decision, cfg domain.AgentConfig) {
	opp := d.Opportunity
	emit := context.WithoutCancel(ctx)

	if !sleep(ctx, cfg.ExecutionDelay()) {
		r.recordFailure(emit, d, "settlement aborted: agent stopped during execution delay", 0)
		return
	}

	r.logger.InfoContext(ctx, "settling opportunity",
		slog.String("opportunity_id", opp.ID),
		slog.Float64("spread", opp.SpreadPct),
		slog.Float64("confidence", d.Confidence),
	)

	// Settlement is not abandoned when the agent stops mid-flight.
	sctx, cancel := context.WithTimeout(emit, r.opts.SettleTimeout)
	start := time.Now()
	res, err := r.venue.Settle(sctx, opp, cfg.MaxTradeSize)
	cancel()
	took := time.Since(start)

	var msg string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = fmt.Sprintf("settlement timed out after %s", r.opts.SettleTimeout)
	case err != nil:
		msg = err.Error()
	case !res.Success:
		msg = res.Error
		if msg == "" {
			msg = "Transaction failed"
		}
	default:
		r.recordSuccess(emit, d, res, took)
		return
	}
	r.recordFailure(emit, d, msg, took)
}

func (r *Runner) recordSuccess(ctx context.Context, d domain.Decision, res domain.SettlementResult, took time.Duration) {
	opp := d.Opportunity

	r.mu.Lock()
	st := &r.agent.Statistics
	st.SuccessfulTrades++
	st.TotalProfit += opp.EstimatedProfit
	st.Recompute()
	snap := r.agent
	r.mu.Unlock()

	trade := r.newTrade(snap.ID, d)
	trade.Status = domain.TradeStatusSuccess
	trade.ProfitAmount = opp.EstimatedProfit
	trade.GasUsed = r.opts.GasEstimate
	trade.Reference = res.Reference

	r.sink.RecordTrade(ctx, trade)
	r.sink.RecordOpportunity(ctx, domain.OpportunityRecord{Opportunity: opp, AgentID: snap.ID, Status: domain.OpportunityExecuted})
	r.persistStats(ctx)
	r.sink.Publish(ctx, domain.EventTradeExecuted, domain.TradeEvent{
		AgentID:   snap.ID,
		AgentName: snap.Name,
		Trade:     trade,
		Success:   true,
	})
	r.activity(ctx, snap, domain.ActivityTradeExecuted,
		fmt.Sprintf("Arbitrage executed successfully: +%.2f %s", trade.ProfitAmount, trade.ProfitToken),
		domain.LevelSuccess, map[string]any{"tradeId": trade.ID, "txHash": trade.Reference})
	r.metrics.Trade(snap.ID, string(trade.Status), trade.ProfitAmount, took)
}

func (r *Runner) recordFailure(ctx context.Context, d domain.Decision, msg string, took time.Duration) {
	snap := r.Snapshot()

	trade := r.newTrade(snap.ID, d)
	trade.Status = domain.TradeStatusFailed
	trade.ErrorMessage = msg

	r.logger.WarnContext(ctx, "settlement failed",
		slog.String("opportunity_id", d.Opportunity.ID),
		slog.String("error", msg),
	)
	r.sink.RecordTrade(ctx, trade)
	r.sink.RecordOpportunity(ctx, domain.OpportunityRecord{Opportunity: d.Opportunity, AgentID: snap.ID, Status: domain.OpportunityFailed})
	r.activity(ctx, snap, domain.ActivityTradeFailed,
		"Trade execution failed: "+msg, domain.LevelError, map[string]any{"tradeId": trade.ID})
	r.metrics.Trade(snap.ID, string(trade.Status), 0, took)
}

func (r *Runner) newTrade(agentID string, d domain.Decision) domain.Trade {
	opp := d.Opportunity
	return domain.Trade{
		ID:                 r.newID(),
		AgentID:            agentID,
		OpportunityID:      opp.ID,
		Type:               opp.Type,
		LegA:               opp.LegA.Name,
		LegB:               opp.LegB.Name,
		Spread:             opp.SpreadPct,
		ProfitToken:        r.opts.ProfitToken,
		DecisionConfidence: d.Confidence,
		DecisionReasoning:  d.Reasoning,
		ExecutedAt:         r.now(),
	}
}

// persist records the agent as it is now, not as it was when the caller
// changed it. The last record written is never older than memory.
func (r *Runner) persist(ctx context.Context) domain.Agent {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	snap := r.Snapshot()
	r.sink.RecordAgent(ctx, snap)
	return snap
}

func (r *Runner) persistStats(ctx context.Context) {
	snap := r.persist(ctx)
	r.sink.Publish(ctx, domain.EventAgentStats, domain.StatsEvent{
		AgentID:    snap.ID,
		Statistics: snap.Statistics,
	})
}

func (r *Runner) publishStatus(ctx context.Context) {
	snap := r.persist(ctx)
	r.metrics.Status(snap.ID, string(snap.Status), statusLabels)
	r.sink.Publish(ctx, domain.EventAgentStatus, domain.StatusEvent{
		AgentID: snap.ID,
		Status:  snap.Status,
	})
}

func (r *Runner) activity(ctx context.Context, snap domain.Agent, typ domain.ActivityType, msg string, level domain.ActivityLevel, meta map[string]any) {
	act := domain.Activity{
		ID:        r.newID(),
		AgentID:   snap.ID,
		AgentName: snap.Name,
		Type:      typ,
		Message:   msg,
		Level:     level,
		Metadata:  meta,
		CreatedAt: r.now(),
	}
	r.sink.RecordActivity(ctx, act)
	r.sink.Publish(ctx, domain.EventActivity, act)
}

// sleep waits for d or until ctx is done. It reports whether the wait ran
// to completion.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
