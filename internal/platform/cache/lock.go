package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// ErrLockTimeout is returned when a lock could not be taken before the wait
// budget ran out. It wraps shared.ErrLockTimeout.
var ErrLockTimeout = fmt.Errorf("platform/cache: %w", shared.ErrLockTimeout)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a Redis-backed keyed lock shared by every instance using the
// same Redis. Each lock expires after TTL if its holder dies.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewLocker constructs a Locker. ttl bounds how long a lock survives a dead
// holder; wait bounds how long Lock blocks.
func NewLocker(client *redis.Client, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = ttl
	}
	return &Locker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// Lock blocks until key is acquired, ctx is done or the wait budget expires.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("platform/cache: lock %s: %w", key, err)
		}
		if ok {
			return func() {
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
