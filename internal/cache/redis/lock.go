package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// releaseLua deletes the lock only while it still holds our token, so a
// holder whose TTL lapsed cannot free a lock someone else now owns.
var releaseLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager with SET NX PX and a token
// checked on release.
type LockManager struct {
	c      *Client
	logger *slog.Logger
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager returns a LockManager on c.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{c: c, logger: logger.With(slog.String("component", "redis_lock"))}
}

// Acquire takes the lock named key for ttl. It fails with an error wrapping
// domain.ErrLockHeld when someone else holds it. The returned release func
// is idempotent and runs even after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk := lm.c.key("lock:", key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseLua.Run(rctx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("release lock failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}
