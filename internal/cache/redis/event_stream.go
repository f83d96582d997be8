package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// streamMaxLen caps each stream at roughly this many entries.
const streamMaxLen int64 = 10000

// EventStream implements domain.EventStream on Redis streams. Each entry
// carries its body in a single "payload" field.
type EventStream struct {
	c *Client
}

var _ domain.EventStream = (*EventStream)(nil)

// NewEventStream returns an EventStream on c.
func NewEventStream(c *Client) *EventStream {
	return &EventStream{c: c}
}

// StreamAppend adds payload to stream, trimming old entries.
func (s *EventStream) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := s.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.c.key("stream:", stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking. Use
// "0" to read from the start. An empty stream yields no entries and no
// error.
func (s *EventStream) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	res, err := s.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.c.key("stream:", stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, st := range res {
		for _, msg := range st.Messages {
			switch v := msg.Values["payload"].(type) {
			case string:
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: []byte(v)})
			case []byte:
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: v})
			}
		}
	}
	return out, nil
}
