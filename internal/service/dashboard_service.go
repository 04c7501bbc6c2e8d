package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

const (
	overviewWindow      = 100
	detailTrades        = 20
	detailOpportunities = 10
	detailActivity      = 50
)

// AgentSource returns the live view of the agents of this process.
type AgentSource interface {
	List(ctx context.Context) []domain.Agent
	Get(ctx context.Context, id string) (domain.Agent, error)
}

// Overview is the dashboard headline.
type Overview struct {
	TotalProfit    float64        `json:"totalProfit"`
	ActiveAgents   int            `json:"activeAgents"`
	TradesExecuted int64          `json:"tradesExecuted"`
	SuccessRate    float64        `json:"successRate"`
	Agents         []domain.Agent `json:"agents"`
}

// ProfitPoint is one successful trade on the profit chart.
type ProfitPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Profit    float64   `json:"profit"`
	Agent     string    `json:"agent"`
}

// Summary aggregates every recorded trade.
type Summary struct {
	TotalVolume      float64 `json:"totalVolume"`
	TotalProfit      float64 `json:"totalProfit"`
	TotalGasCost     float64 `json:"totalGasCost"`
	TotalTrades      int     `json:"totalTrades"`
	SuccessfulTrades int     `json:"successfulTrades"`
	SuccessRate      float64 `json:"successRate"`
}

// AgentProfit is one row of the profit-by-agent breakdown.
type AgentProfit struct {
	AgentID     string  `json:"agentId"`
	AgentName   string  `json:"agentName"`
	TotalProfit float64 `json:"totalProfit"`
	TradeCount  int     `json:"tradeCount"`
}

// AgentDetail is an agent with its recent history.
type AgentDetail struct {
	domain.Agent
	Trades        []domain.Trade             `json:"trades"`
	Opportunities []domain.OpportunityRecord `json:"opportunities"`
	Activities    []domain.Activity          `json:"activities"`
}

// DashboardService answers the read-only API queries.
type DashboardService struct {
	agents AgentSource
	trades domain.TradeStore
	opps   domain.OpportunityStore
	acts   domain.ActivityStore
	now    func() time.Time
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(agents AgentSource, trades domain.TradeStore, opps domain.OpportunityStore, acts domain.ActivityStore) *DashboardService {
	return &DashboardService{agents: agents, trades: trades, opps: opps, acts: acts, now: time.Now}
}

func round(d decimal.Decimal, places int32) float64 {
	return d.Round(places).InexactFloat64()
}

func pct(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(whole)))
}

// Overview totals profit and successful trades from the agents' statistics.
// SuccessRate covers the most recent trades only.
func (s *DashboardService) Overview(ctx context.Context) (Overview, error) {
	agents := s.agents.List(ctx)

	out := Overview{Agents: agents}
	profit := decimal.Zero
	for _, a := range agents {
		if a.Status == domain.AgentStatusActive {
			out.ActiveAgents++
		}
		out.TradesExecuted += a.Statistics.SuccessfulTrades
		profit = profit.Add(decimal.NewFromFloat(a.Statistics.TotalProfit))
	}
	out.TotalProfit = round(profit, 2)

	recent, err := s.trades.List(ctx, domain.TradeFilter{Limit: overviewWindow})
	if err != nil {
		return Overview{}, fmt.Errorf("dashboard: overview: %w", err)
	}
	ok := 0
	for _, t := range recent {
		if t.Status == domain.TradeStatusSuccess {
			ok++
		}
	}
	out.SuccessRate = round(pct(ok, len(recent)), 1)
	return out, nil
}

// ActivityFeed returns the newest activity entries across all agents.
func (s *DashboardService) ActivityFeed(ctx context.Context, limit int) ([]domain.Activity, error) {
	acts, err := s.acts.ListRecent(ctx, "", limit)
	if err != nil {
		return nil, fmt.Errorf("dashboard: activity feed: %w", err)
	}
	return acts, nil
}

// ParseRange maps a chart range to a lookback window. Zero means all time.
func ParseRange(r string) time.Duration {
	switch r {
	case "24h":
		return 24 * time.Hour
	case "7d", "":
		return 7 * 24 * time.Hour
	case "30d":
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ProfitChart lists successful trades in the window, oldest first.
func (s *DashboardService) ProfitChart(ctx context.Context, window time.Duration) ([]ProfitPoint, error) {
	filter := domain.TradeFilter{Status: domain.TradeStatusSuccess}
	if window > 0 {
		since := s.now().Add(-window)
		filter.Since = &since
	}
	trades, err := s.trades.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("dashboard: profit chart: %w", err)
	}

	names := s.agentNames(ctx)
	out := make([]ProfitPoint, 0, len(trades))
	for _, t := range trades {
		out = append(out, ProfitPoint{Timestamp: t.ExecutedAt, Profit: t.ProfitAmount, Agent: names[t.AgentID]})
	}
	slices.SortStableFunc(out, func(a, b ProfitPoint) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

// Summary aggregates every trade.
func (s *DashboardService) Summary(ctx context.Context) (Summary, error) {
	trades, err := s.trades.List(ctx, domain.TradeFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("dashboard: summary: %w", err)
	}

	profit, gas := decimal.Zero, decimal.Zero
	ok := 0
	for _, t := range trades {
		gas = gas.Add(decimal.NewFromFloat(t.GasUsed))
		if t.Status == domain.TradeStatusSuccess {
			ok++
			profit = profit.Add(decimal.NewFromFloat(t.ProfitAmount))
		}
	}
	return Summary{
		TotalVolume:      round(profit, 2),
		TotalProfit:      round(profit, 2),
		TotalGasCost:     round(gas, 4),
		TotalTrades:      len(trades),
		SuccessfulTrades: ok,
		SuccessRate:      round(pct(ok, len(trades)), 1),
	}, nil
}

// ProfitByAgent sums successful trades per agent.
func (s *DashboardService) ProfitByAgent(ctx context.Context) ([]AgentProfit, error) {
	agents := s.agents.List(ctx)
	out := make([]AgentProfit, 0, len(agents))
	for _, a := range agents {
		trades, err := s.trades.List(ctx, domain.TradeFilter{AgentID: a.ID, Status: domain.TradeStatusSuccess})
		if err != nil {
			return nil, fmt.Errorf("dashboard: profit by agent %s: %w", a.ID, err)
		}
		profit := decimal.Zero
		for _, t := range trades {
			profit = profit.Add(decimal.NewFromFloat(t.ProfitAmount))
		}
		out = append(out, AgentProfit{
			AgentID:     a.ID,
			AgentName:   a.Name,
			TotalProfit: round(profit, 2),
			TradeCount:  len(trades),
		})
	}
	return out, nil
}

// AgentDetail returns the live agent with its latest trades, opportunities
// and activity.
func (s *DashboardService) AgentDetail(ctx context.Context, id string) (AgentDetail, error) {
	agent, err := s.agents.Get(ctx, id)
	if err != nil {
		return AgentDetail{}, err
	}
	out := AgentDetail{Agent: agent}
	if out.Trades, err = s.trades.List(ctx, domain.TradeFilter{AgentID: id, Limit: detailTrades}); err != nil {
		return AgentDetail{}, fmt.Errorf("dashboard: agent %s trades: %w", id, err)
	}
	if out.Opportunities, err = s.opps.ListRecent(ctx, id, detailOpportunities); err != nil {
		return AgentDetail{}, fmt.Errorf("dashboard: agent %s opportunities: %w", id, err)
	}
	if out.Activities, err = s.acts.ListRecent(ctx, id, detailActivity); err != nil {
		return AgentDetail{}, fmt.Errorf("dashboard: agent %s activity: %w", id, err)
	}
	return out, nil
}

func (s *DashboardService) agentNames(ctx context.Context) map[string]string {
	agents := s.agents.List(ctx)
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	return names
}
