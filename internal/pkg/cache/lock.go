package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// ErrLockNotAcquired is returned when the wait window elapsed while another
// holder kept the lock.
var ErrLockNotAcquired = errors.New("lock not acquired")

// unlockScript deletes the key only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived distributed locks backed by SET NX PX.
type Locker struct {
	client       *redis.Client
	pollInterval time.Duration
}

// NewLocker creates a locker on the given client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, pollInterval: 50 * time.Millisecond}
}

// Acquire blocks up to wait for the lock on key. The returned release func is
// safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := lockKeyPrefix + key
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(rctx, l.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
				log.Warnf("[Cache] Failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}
