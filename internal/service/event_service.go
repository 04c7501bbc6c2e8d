package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/notify"
)

// EventStores are the stores written by EventService.
type EventStores struct {
	Agents        domain.AgentStore
	Opportunities domain.OpportunityStore
	Trades        domain.TradeStore
	Activity      domain.ActivityStore
}

// EventService implements domain.EventSink. Records go to Postgres, live
// events go to the signal bus and a capped replay stream, and selected
// activity entries are forwarded to the notifier. Failures are logged and
// never reach the agent loop.
type EventService struct {
	stores   EventStores
	bus      domain.SignalBus
	notifier *notify.Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEventService creates an EventService. bus and notifier may be nil.
func NewEventService(stores EventStores, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *EventService {
	return &EventService{
		stores:   stores,
		bus:      bus,
		notifier: notifier,
		timeout:  5 * time.Second,
		logger:   logger.With(slog.String("component", "event_service")),
	}
}

func (s *EventService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// RecordAgent persists the agent's status and statistics.
func (s *EventService) RecordAgent(ctx context.Context, agent domain.Agent) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.stores.Agents.Update(ctx, agent); err != nil {
		s.logger.WarnContext(ctx, "event_service: update agent failed",
			slog.String("agent_id", agent.ID),
			slog.String("error", err.Error()),
		)
	}
}

// RecordOpportunity inserts the opportunity or moves it to rec.Status.
func (s *EventService) RecordOpportunity(ctx context.Context, rec domain.OpportunityRecord) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.stores.Opportunities.Upsert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "event_service: upsert opportunity failed",
			slog.String("opportunity_id", rec.ID),
			slog.String("status", string(rec.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// RecordTrade inserts a settlement attempt.
func (s *EventService) RecordTrade(ctx context.Context, trade domain.Trade) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.stores.Trades.Insert(ctx, trade); err != nil {
		s.logger.ErrorContext(ctx, "event_service: insert trade failed",
			slog.String("trade_id", trade.ID),
			slog.String("status", string(trade.Status)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "event_service: trade recorded",
		slog.String("trade_id", trade.ID),
		slog.String("status", string(trade.Status)),
		slog.Float64("profit", trade.ProfitAmount),
	)
}

// RecordActivity inserts an activity entry and forwards it to the notifier.
func (s *EventService) RecordActivity(ctx context.Context, act domain.Activity) {
	ictx, cancel := s.bounded(ctx)
	if err := s.stores.Activity.Insert(ictx, act); err != nil {
		s.logger.WarnContext(ictx, "event_service: insert activity failed",
			slog.String("activity_id", act.ID),
			slog.String("type", string(act.Type)),
			slog.String("error", err.Error()),
		)
	}
	cancel()

	if s.notifier.Enabled() {
		// Chat webhooks can be slow; the agent loop does not wait for them.
		go func(act domain.Activity) {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := s.notifier.NotifyActivity(nctx, act); err != nil {
				s.logger.WarnContext(nctx, "event_service: notify failed", slog.String("error", err.Error()))
			}
		}(act)
	}
}

// Publish broadcasts event on its channel and appends it to the replay
// stream.
func (s *EventService) Publish(ctx context.Context, event domain.EventName, payload any) {
	if s.bus == nil {
		return
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "event_service: marshal payload failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
		return
	}
	msg, err := json.Marshal(domain.Envelope{Event: event, Payload: raw, Timestamp: time.Now().UTC()})
	if err != nil {
		s.logger.ErrorContext(ctx, "event_service: marshal envelope failed", slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, event.Channel(), msg); err != nil {
		s.logger.WarnContext(ctx, "event_service: publish failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventStream, msg); err != nil {
		s.logger.WarnContext(ctx, "event_service: stream append failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.EventSink = (*EventService)(nil)
