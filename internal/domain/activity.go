package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ActivityType classifies an activity log entry.
type ActivityType string

const (
	ActivityAgentStarted        ActivityType = "agent_started"
	ActivityAgentStopped        ActivityType = "agent_stopped"
	ActivityOpportunityDetected ActivityType = "opportunity_detected"
	ActivityTradeExecuted       ActivityType = "trade_executed"
	ActivityTradeFailed         ActivityType = "trade_failed"
	ActivityError               ActivityType = "error"
)

// ActivityLevel is the severity shown next to an activity entry.
type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "info"
	LevelSuccess ActivityLevel = "success"
	LevelError   ActivityLevel = "error"
)

// Activity is a human-readable entry in an agent's activity feed.
type Activity struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agentId"`
	AgentName string         `json:"agentName"`
	Type      ActivityType   `json:"eventType"`
	Message   string         `json:"message"`
	Level     ActivityLevel  `json:"level"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

// EventName identifies a live-update event.
type EventName string

const (
	EventOpportunityDetected EventName = "opportunity:detected"
	EventTradeExecuted       EventName = "trade:executed"
	EventAgentStatus         EventName = "agent:status:update"
	EventAgentStats          EventName = "agent:stats:update"
	EventActivity            EventName = "activity:new"
)

// Events lists every live-update event name.
var Events = []EventName{
	EventOpportunityDetected,
	EventTradeExecuted,
	EventAgentStatus,
	EventAgentStats,
	EventActivity,
}

// EventStream is the capped stream holding recent events for replay.
const EventStream = "sentinel:events"

// Channel is the pub/sub channel an event is published on.
func (e EventName) Channel() string {
	return "sentinel:" + string(e)
}

// Envelope is the wire form of a live-update event.
type Envelope struct {
	Event     EventName       `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// OpportunityEvent is the payload of opportunity:detected.
type OpportunityEvent struct {
	AgentID     string      `json:"agentId"`
	AgentName   string      `json:"agentName"`
	Opportunity Opportunity `json:"opportunity"`
}

// TradeEvent is the payload of trade:executed.
type TradeEvent struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Trade     Trade  `json:"trade"`
	Success   bool   `json:"success"`
}

// StatusEvent is the payload of agent:status:update.
type StatusEvent struct {
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// StatsEvent is the payload of agent:stats:update.
type StatsEvent struct {
	AgentID    string     `json:"agentId"`
	Statistics Statistics `json:"statistics"`
}

// EventSink receives records and live-update events from running agents.
// Every method is fire-and-forget: implementations log their own failures
// and callers never branch on the outcome.
type EventSink interface {
	RecordAgent(ctx context.Context, agent Agent)
	RecordOpportunity(ctx context.Context, rec OpportunityRecord)
	RecordTrade(ctx context.Context, trade Trade)
	RecordActivity(ctx context.Context, act Activity)
	Publish(ctx context.Context, event EventName, payload any)
}
