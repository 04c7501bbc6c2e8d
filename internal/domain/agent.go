package domain

import (
	"fmt"
	"time"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentStatusIdle   AgentStatus = "idle"
	AgentStatusActive AgentStatus = "active"
	AgentStatusPaused AgentStatus = "paused"
	AgentStatusError  AgentStatus = "error"
)

// AgentKind tags the behaviour an agent runs. One record exists per kind.
type AgentKind string

const AgentKindArbitrageHunter AgentKind = "arbitrage_hunter"

// transitions lists the allowed status moves. error->active lets an operator
// restart an agent that halted itself after repeated failed iterations.
var transitions = map[AgentStatus][]AgentStatus{
	AgentStatusIdle:   {AgentStatusActive},
	AgentStatusActive: {AgentStatusPaused, AgentStatusError},
	AgentStatusPaused: {AgentStatusActive},
	AgentStatusError:  {AgentStatusActive},
}

// CanTransition reports whether the status may move to next.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AgentConfig holds the tunables an operator may change at runtime.
type AgentConfig struct {
	MinSpreadPct          float64 `json:"minSpreadPct"`
	MaxTradeSize          float64 `json:"maxTradeSize"`
	ExecutionDelaySeconds float64 `json:"executionDelaySeconds"`
}

// Validate checks the config bounds and returns an error wrapping
// ErrInvalidConfig describing every violation.
func (c AgentConfig) Validate() error {
	var problems []string
	if !(c.MinSpreadPct > 0) {
		problems = append(problems, fmt.Sprintf("minSpreadPct must be > 0, got %v", c.MinSpreadPct))
	}
	if !(c.MaxTradeSize > 0) {
		problems = append(problems, fmt.Sprintf("maxTradeSize must be > 0, got %v", c.MaxTradeSize))
	}
	if !(c.ExecutionDelaySeconds >= 0) {
		problems = append(problems, fmt.Sprintf("executionDelaySeconds must be >= 0, got %v", c.ExecutionDelaySeconds))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	return nil
}

// ExecutionDelay converts ExecutionDelaySeconds to a duration.
func (c AgentConfig) ExecutionDelay() time.Duration {
	return time.Duration(c.ExecutionDelaySeconds * float64(time.Second))
}

// Statistics is the running performance record of an agent.
type Statistics struct {
	OpportunitiesFound int64   `json:"opportunitiesFound"`
	SuccessfulTrades   int64   `json:"successfulTrades"`
	TotalProfit        float64 `json:"totalProfit"`
	SuccessRate        float64 `json:"successRate"`
}

// Recompute derives SuccessRate from the counters. It is never adjusted
// incrementally.
func (s *Statistics) Recompute() {
	if s.OpportunitiesFound <= 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.SuccessfulTrades) / float64(s.OpportunitiesFound) * 100
}

// Agent is the persisted identity and state of a trading agent.
type Agent struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Kind       AgentKind   `json:"type"`
	Status     AgentStatus `json:"status"`
	Config     AgentConfig `json:"config"`
	Statistics Statistics  `json:"statistics"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}
