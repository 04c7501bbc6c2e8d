package domain

import "time"

// TradeStatus is the outcome of a settlement attempt.
type TradeStatus string

const (
	TradeStatusSuccess TradeStatus = "success"
	TradeStatusFailed  TradeStatus = "failed"
)

// Trade records one settlement attempt. It is written once and never
// modified.
type Trade struct {
	ID                 string      `json:"id"`
	AgentID            string      `json:"agentId"`
	OpportunityID      string      `json:"opportunityId"`
	Type               string      `json:"type"`
	LegA               string      `json:"poolA"`
	LegB               string      `json:"poolB"`
	Spread             float64     `json:"spread"`
	ProfitAmount       float64     `json:"profitAmount"`
	ProfitToken        string      `json:"profitToken"`
	GasUsed            float64     `json:"gasUsed"`
	Reference          string      `json:"txHash,omitempty"`
	Status             TradeStatus `json:"status"`
	ErrorMessage       string      `json:"errorMessage,omitempty"`
	DecisionConfidence float64     `json:"confidence"`
	DecisionReasoning  string      `json:"reasoning"`
	ExecutedAt         time.Time   `json:"executedAt"`
}

// TradeFilter narrows trade listings.
type TradeFilter struct {
	AgentID string
	Status  TradeStatus
	Since   *time.Time
	Limit   int
}
