// Package notify fans operator alerts out to chat channels. Each alert has an
// event type so operators can mute the ones they do not care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// Event types raised by the trading cycle.
const (
	EventInvariant    = "invariant_violation"
	EventCycleFailed  = "cycle_failed"
	EventCycleSummary = "cycle_summary"
	EventDispatched   = "position_dispatched"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers alerts to every registered Sender. When events is
// non-empty only those event types are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message to all senders when event passes the filter.
// Every sender is tried; their failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Invariant raises an invariant violation alert.
func (n *Notifier) Invariant(ctx context.Context, ie *domain.InvariantError) error {
	msg := fmt.Sprintf("ticker: %s\nrule: %s", ie.Ticker, ie.Rule)
	if ie.Status != "" {
		msg += fmt.Sprintf("\nstatus: %s", ie.Status)
	}
	return n.Notify(ctx, EventInvariant, "Invariant violated", msg)
}

// Dispatched is an event bus handler that announces every dispatched signal.
func (n *Notifier) Dispatched(ctx context.Context, payload any) error {
	sig, ok := payload.(domain.Signal)
	if !ok {
		return nil
	}
	kind := "new entry"
	if sig.OpenPosition {
		kind = "bracket adjustment"
	}
	if err := n.Notify(ctx, EventDispatched, "Position dispatched", fmt.Sprintf("%s: %s", sig.Ticker, kind)); err != nil {
		// delivery problems never fail the publisher
		n.logger.WarnContext(ctx, "dispatch notification failed", slog.String("error", err.Error()))
	}
	return nil
}
