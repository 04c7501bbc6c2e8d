package domain

import (
	"context"
	"time"
)

// Quote is a priced instrument observed during a single polling tick.
type Quote struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// OpportunityStatus tracks what happened to a detected opportunity.
type OpportunityStatus string

const (
	OpportunityAnalyzing OpportunityStatus = "analyzing"
	OpportunityExecuted  OpportunityStatus = "executed"
	OpportunitySkipped   OpportunityStatus = "skipped"
	OpportunityFailed    OpportunityStatus = "failed"
)

// Opportunity is a pair of quotes whose relative spread exceeded the
// detection threshold. Spread is measured against LegA.
type Opportunity struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	LegA            Quote     `json:"poolA"`
	LegB            Quote     `json:"poolB"`
	SpreadPct       float64   `json:"spread"`
	EstimatedProfit float64   `json:"estimatedProfit"`
	DetectedAt      time.Time `json:"detectedAt"`
}

// OpportunityRecord is the persisted form of an opportunity.
type OpportunityRecord struct {
	Opportunity
	AgentID string            `json:"agentId"`
	Status  OpportunityStatus `json:"status"`
}

// Decision is the execute/skip verdict for one opportunity.
type Decision struct {
	ShouldExecute bool        `json:"shouldExecute"`
	Confidence    float64     `json:"confidence"`
	Reasoning     string      `json:"reasoning"`
	Opportunity   Opportunity `json:"opportunity"`
}

// SettlementResult is what a venue reports for one two-leg settlement.
type SettlementResult struct {
	Success   bool
	Reference string
	Error     string
}

// Venue supplies quotes and settles opportunities. Settle is a single
// attempt; callers never retry it internally.
type Venue interface {
	Quotes(ctx context.Context) ([]Quote, error)
	Settle(ctx context.Context, opp Opportunity, maxSize float64) (SettlementResult, error)
}
