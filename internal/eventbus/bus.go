// Package eventbus is a synchronous in-process publish/subscribe bus.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one published payload.
type Handler func(ctx context.Context, payload any) error

// Bus delivers every published payload to the handlers subscribed to its
// event, in subscription order, on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New returns an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With(slog.String("component", "eventbus")),
	}
}

// Subscribe registers h for event.
func (b *Bus) Subscribe(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Publish runs every handler for event before returning. All handlers run
// even if one fails; their errors are joined and returned.
func (b *Bus) Publish(ctx context.Context, event string, payload any) error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[event]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		b.logger.DebugContext(ctx, "no subscribers", slog.String("event", event))
		return nil
	}

	var errs []error
	for i, h := range hs {
		if err := h(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("eventbus: %s handler %d: %w", event, i, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of handlers registered for event.
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
