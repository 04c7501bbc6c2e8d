// Package notify fans operator alerts out to chat channels. Notifications
// are filtered by activity type so operators only hear about what they
// asked for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// DefaultEvents are the activity types forwarded when none are configured.
var DefaultEvents = []string{
	string(domain.ActivityTradeExecuted),
	string(domain.ActivityTradeFailed),
	string(domain.ActivityError),
}

// Message is one alert.
type Message struct {
	Title string
	Body  string
	Level domain.ActivityLevel
}

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches to every Sender. Notify forwards only allowed event
// types; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows
// DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends msg if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event string, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	if !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, msg)
}

// NotifyActivity forwards an activity entry, titled with the agent name.
func (n *Notifier) NotifyActivity(ctx context.Context, act domain.Activity) error {
	title := act.AgentName
	if title == "" {
		title = "DeepSentinel"
	}
	return n.Notify(ctx, string(act.Type), Message{
		Title: title,
		Body:  act.Message,
		Level: act.Level,
	})
}

// NotifyAll sends msg regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, msg)
}

// dispatch sends to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
