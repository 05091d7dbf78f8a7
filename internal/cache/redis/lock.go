package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's
// token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL of a lock the caller still owns.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and a
// token-checked unlock.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Hold acquires the lock for key and keeps extending it every ttl/3 until
// ctx ends or the returned release is called. lost is closed if ownership
// is lost to expiry. It returns domain.ErrLockHeld if another party holds
// the lock. release is safe to call more than once.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (release func(), lost <-chan struct{}, err error) {
	unlock, token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}

	lostCh := make(chan struct{})
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := lm.extendSc.Run(ctx, lm.c.Underlying(), []string{lm.c.Key("lock", key)}, token, ttl.Milliseconds()).Int()
				if err != nil || n == 0 {
					close(lostCh)
					return
				}
			}
		}
	}()

	release = func() {
		once.Do(func() {
			close(stop)
			unlock()
		})
	}
	return release, lostCh, nil
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (func(), string, error) {
	token := uuid.New().String()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.Underlying().SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, "", domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.Underlying(), []string{lk}, token).Err()
		})
	}
	return unlock, token, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
