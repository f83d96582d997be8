package redis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// testClient connects to TRADECYCLE_TEST_REDIS_ADDR under a fresh key prefix
// and skips the test when the variable is unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TRADECYCLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRADECYCLE_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientKeyPrefix(t *testing.T) {
	c := Wrap(nil, "tradecycle:")
	assert.Equal(t, "tradecycle:lock:cycle", c.key("lock:", "cycle"))
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "cycle", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()

	again, err := lm.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockReleaseKeepsForeignToken(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "cycle", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	other, err := lm.Acquire(ctx, "cycle", time.Minute)
	require.NoError(t, err)
	defer other()

	// the first holder's TTL lapsed; its release must not free the new lock
	release()
	_, err = lm.Acquire(ctx, "cycle", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestEventStreamRoundTrip(t *testing.T) {
	c := testClient(t)
	s := NewEventStream(c)
	ctx := context.Background()

	msgs, err := s.StreamRead(ctx, "signals", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.StreamAppend(ctx, "signals", []byte(`{"ticker":"AAA"}`)))
	require.NoError(t, s.StreamAppend(ctx, "signals", []byte(`{"ticker":"BBB"}`)))

	msgs, err = s.StreamRead(ctx, "signals", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"ticker":"AAA"}`, string(msgs[0].Payload))

	rest, err := s.StreamRead(ctx, "signals", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"ticker":"BBB"}`, string(rest[0].Payload))
}
