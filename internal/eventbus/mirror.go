package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// envelope is the JSON shape written to the mirror stream.
type envelope struct {
	Event   string    `json:"event"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Mirror returns a handler that appends every payload of event, wrapped in
// an envelope, to stream. Mirror failures are logged and never reach the
// publisher.
func Mirror(sink domain.EventStream, stream, event string, logger *slog.Logger) Handler {
	logger = logger.With(slog.String("component", "event_mirror"), slog.String("stream", stream))
	return func(ctx context.Context, payload any) error {
		b, err := json.Marshal(envelope{Event: event, At: time.Now().UTC(), Payload: payload})
		if err != nil {
			logger.WarnContext(ctx, "mirror marshal failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if err := sink.StreamAppend(ctx, stream, b); err != nil {
			logger.WarnContext(ctx, "mirror append failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}
