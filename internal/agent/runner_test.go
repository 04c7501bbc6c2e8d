package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// 2% spread: the rule maker executes it.
var wideQuotes = []domain.Quote{
	{Name: "SUI/USDC", Price: 2.00},
	{Name: "SUI/USDT", Price: 2.04},
}

// 0.6% spread: detected at 0.5 but skipped by the rule maker.
var narrowQuotes = []domain.Quote{
	{Name: "SUI/USDC", Price: 2.00},
	{Name: "SUI/USDT", Price: 2.012},
}

func TestIterateSettlesExecutedOpportunity(t *testing.T) {
	venue := &fakeVenue{quotes: wideQuotes}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.iterate(context.Background()))

	st := r.Snapshot().Statistics
	assert.Equal(t, int64(1), st.OpportunitiesFound)
	assert.Equal(t, int64(1), st.SuccessfulTrades)
	assert.InDelta(t, 20.0, st.TotalProfit, 1e-9)
	assert.InDelta(t, 100.0, st.SuccessRate, 1e-9)

	trades := sink.tradeList()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, domain.TradeStatusSuccess, tr.Status)
	assert.InDelta(t, 20.0, tr.ProfitAmount, 1e-9)
	assert.Equal(t, "SUI", tr.ProfitToken)
	assert.Equal(t, 0.001, tr.GasUsed)
	assert.Equal(t, "0xabc", tr.Reference)
	assert.Equal(t, "SUI/USDC", tr.LegA)
	assert.Equal(t, "SUI/USDT", tr.LegB)
	assert.Equal(t, 0.7, tr.DecisionConfidence)

	assert.Equal(t, []float64{100}, venue.sizes)
	assert.Equal(t, map[string]domain.OpportunityStatus{tr.OpportunityID: domain.OpportunityExecuted}, sink.oppStatuses())
	assert.Equal(t, []domain.ActivityType{domain.ActivityOpportunityDetected, domain.ActivityTradeExecuted}, sink.activityTypes())
	assert.Contains(t, sink.eventNames(), domain.EventOpportunityDetected)
	assert.Contains(t, sink.eventNames(), domain.EventTradeExecuted)
	assert.Contains(t, sink.eventNames(), domain.EventAgentStats)
}

func TestIterateRecordsRejectedSettlement(t *testing.T) {
	venue := &fakeVenue{
		quotes: wideQuotes,
		settle: func(context.Context, domain.Opportunity, float64) (domain.SettlementResult, error) {
			return domain.SettlementResult{Error: "Transaction failed: Insufficient liquidity"}, nil
		},
	}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.iterate(context.Background()))

	st := r.Snapshot().Statistics
	assert.Equal(t, int64(1), st.OpportunitiesFound)
	assert.Equal(t, int64(0), st.SuccessfulTrades)
	assert.Zero(t, st.TotalProfit)
	assert.Zero(t, st.SuccessRate)

	trades := sink.tradeList()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusFailed, trades[0].Status)
	assert.Zero(t, trades[0].ProfitAmount)
	assert.Equal(t, "Transaction failed: Insufficient liquidity", trades[0].ErrorMessage)
	assert.Equal(t, domain.OpportunityFailed, sink.oppStatuses()[trades[0].OpportunityID])
	assert.Contains(t, sink.activityTypes(), domain.ActivityTradeFailed)
	assert.NotContains(t, sink.eventNames(), domain.EventTradeExecuted)
}

func TestIterateSkipsWithoutSettling(t *testing.T) {
	venue := &fakeVenue{quotes: narrowQuotes}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.iterate(context.Background()))

	assert.Zero(t, venue.settles())
	assert.Empty(t, sink.tradeList())
	assert.Equal(t, int64(1), r.Snapshot().Statistics.OpportunitiesFound)
	for _, status := range sink.oppStatuses() {
		assert.Equal(t, domain.OpportunitySkipped, status)
	}
}

func TestIterateQuoteErrorIsReturned(t *testing.T) {
	venue := &fakeVenue{quoteErr: fmt.Errorf("rpc down")}
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), newSink(), testOptions())

	err := r.iterate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestStatisticsMatchRecordedTrades(t *testing.T) {
	var mu sync.Mutex
	n := 0
	venue := &fakeVenue{
		quotes: wideQuotes,
		settle: func(context.Context, domain.Opportunity, float64) (domain.SettlementResult, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			if n%3 == 0 {
				return domain.SettlementResult{Error: "rejected"}, nil
			}
			return domain.SettlementResult{Success: true, Reference: "0x1"}, nil
		},
	}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), sink, testOptions())

	for i := 0; i < 9; i++ {
		require.NoError(t, r.iterate(context.Background()))
	}

	var ok int64
	var profit float64
	for _, tr := range sink.tradeList() {
		if tr.Status == domain.TradeStatusSuccess {
			ok++
			profit += tr.ProfitAmount
		}
	}
	st := r.Snapshot().Statistics
	assert.Equal(t, int64(9), st.OpportunitiesFound)
	assert.Len(t, sink.tradeList(), 9)
	assert.Equal(t, ok, st.SuccessfulTrades)
	assert.Equal(t, int64(6), ok)
	assert.InDelta(t, profit, st.TotalProfit, 1e-9)
	assert.InDelta(t, float64(ok)/9*100, st.SuccessRate, 1e-9)
}

func TestSettleTimeoutIsRecordedAsFailure(t *testing.T) {
	venue := &fakeVenue{
		quotes: wideQuotes,
		settle: func(ctx context.Context, _ domain.Opportunity, _ float64) (domain.SettlementResult, error) {
			<-ctx.Done()
			return domain.SettlementResult{}, fmt.Errorf("settle: %w", ctx.Err())
		},
	}
	sink := newSink()
	opts := testOptions()
	opts.SettleTimeout = 20 * time.Millisecond
	r := newTestRunner(domain.AgentStatusActive, venue, decision.NewRule(), sink, opts)

	require.NoError(t, r.iterate(context.Background()))

	trades := sink.tradeList()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusFailed, trades[0].Status)
	assert.Equal(t, "settlement timed out after 20ms", trades[0].ErrorMessage)
}

func TestStopInterruptsWaitPromptly(t *testing.T) {
	venue := &fakeVenue{quoted: make(chan struct{}, 1)}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.Start(context.Background()))
	<-venue.quoted

	start := time.Now()
	require.NoError(t, r.Stop(context.Background()))
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after stop")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, domain.AgentStatusPaused, r.Snapshot().Status)
	assert.Empty(t, sink.tradeList())
	assert.Equal(t, []domain.ActivityType{domain.ActivityAgentStarted, domain.ActivityAgentStopped}, sink.activityTypes())
}

func TestStopDuringExecutionDelayAbortsSettlement(t *testing.T) {
	venue := &fakeVenue{quotes: wideQuotes}
	sink := newSink()
	maker := signalMaker{Maker: decision.NewRule(), called: make(chan struct{}, 1)}
	r := newTestRunner(domain.AgentStatusIdle, venue, maker, sink, testOptions())
	_, err := r.SetConfig(domain.AgentConfig{MinSpreadPct: 0.5, MaxTradeSize: 100, ExecutionDelaySeconds: 60})
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	<-maker.called
	require.NoError(t, r.Stop(context.Background()))
	<-r.Done()

	assert.Zero(t, venue.settles())
	trades := sink.tradeList()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusFailed, trades[0].Status)
	assert.Equal(t, "settlement aborted: agent stopped during execution delay", trades[0].ErrorMessage)
}

func TestInFlightSettlementCompletesAfterStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	venue := &fakeVenue{
		quotes: wideQuotes,
		settle: func(context.Context, domain.Opportunity, float64) (domain.SettlementResult, error) {
			close(entered)
			<-release
			return domain.SettlementResult{Success: true, Reference: "0xdef"}, nil
		},
	}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.Start(context.Background()))
	<-entered
	require.NoError(t, r.Stop(context.Background()))
	close(release)
	<-r.Done()

	trades := sink.tradeList()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeStatusSuccess, trades[0].Status)
	assert.Equal(t, int64(1), r.Snapshot().Statistics.SuccessfulTrades)
	assert.Equal(t, domain.AgentStatusPaused, r.Snapshot().Status)
}

func TestStopOutlivesConcurrentStatsWrite(t *testing.T) {
	venue := &fakeVenue{quotes: wideQuotes}
	sink := newSink()
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sink.onAgent = func(a domain.Agent) {
		if a.Status == domain.AgentStatusActive && a.Statistics.SuccessfulTrades == 1 {
			once.Do(func() {
				close(blocked)
				<-release
			})
		}
	}
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, testOptions())

	require.NoError(t, r.Start(context.Background()))
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("stats write never happened")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background()) }()
	require.Eventually(t, func() bool {
		return r.Snapshot().Status == domain.AgentStatusPaused
	}, time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-stopped)
	<-r.Done()

	last := sink.lastAgent()
	assert.Equal(t, r.Snapshot().Status, last.Status)
	assert.Equal(t, domain.AgentStatusPaused, last.Status)
	assert.Equal(t, int64(1), last.Statistics.SuccessfulTrades)
}

func TestLoopPausesAgentWhenParentContextEnds(t *testing.T) {
	venue := &fakeVenue{quoted: make(chan struct{}, 1)}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	<-venue.quoted
	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after parent cancel")
	}

	assert.Equal(t, domain.AgentStatusPaused, r.Snapshot().Status)
	assert.Equal(t, domain.AgentStatusPaused, sink.lastAgent().Status)
	assert.Equal(t, []domain.ActivityType{domain.ActivityAgentStarted, domain.ActivityAgentStopped}, sink.activityTypes())

	// The agent is not stuck looking active.
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, domain.AgentStatusActive, r.Snapshot().Status)
	require.NoError(t, r.Stop(context.Background()))
	<-r.Done()
}

func TestRepeatedFailuresHaltAgent(t *testing.T) {
	venue := &fakeVenue{quoteErr: fmt.Errorf("rpc down")}
	sink := newSink()
	opts := testOptions()
	opts.ScanInterval = time.Millisecond
	opts.MaxConsecutiveFailures = 3
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, opts)

	require.NoError(t, r.Start(context.Background()))
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not halt")
	}

	assert.Equal(t, domain.AgentStatusError, r.Snapshot().Status)
	errorsLogged := 0
	for _, typ := range sink.activityTypes() {
		if typ == domain.ActivityError {
			errorsLogged++
		}
	}
	assert.Equal(t, 4, errorsLogged)

	// An operator may restart a halted agent.
	venue.mu.Lock()
	venue.quoteErr = nil
	venue.mu.Unlock()
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, domain.AgentStatusActive, r.Snapshot().Status)
	require.NoError(t, r.Stop(context.Background()))
	<-r.Done()
}

func TestStartAndStopTransitions(t *testing.T) {
	venue := &fakeVenue{}
	sink := newSink()
	r := newTestRunner(domain.AgentStatusIdle, venue, decision.NewRule(), sink, testOptions())

	err := r.Stop(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, []domain.ActivityType{domain.ActivityAgentStarted}, sink.activityTypes())

	require.NoError(t, r.Stop(context.Background()))
	assert.ErrorIs(t, r.Stop(context.Background()), domain.ErrInvalidTransition)
	<-r.Done()
}

func TestSetConfigValidates(t *testing.T) {
	r := newTestRunner(domain.AgentStatusIdle, &fakeVenue{}, decision.NewRule(), newSink(), testOptions())

	_, err := r.SetConfig(domain.AgentConfig{MinSpreadPct: 0, MaxTradeSize: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, defaultConfig(), r.Snapshot().Config)

	next := domain.AgentConfig{MinSpreadPct: 1.5, MaxTradeSize: 50, ExecutionDelaySeconds: 2}
	a, err := r.SetConfig(next)
	require.NoError(t, err)
	assert.Equal(t, next, a.Config)
}
