package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/scholarmarket-backend/pkg/redis"
)

const defaultLockTTL = 30 * time.Second

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	LockKey(name string) string
}

// RedisLocker implements Locker with Redis SETNX + TTL so several API
// instances can share one database. Each key stores a random owner token and
// is deleted atomically, only by the holder that set it.
type RedisLocker struct {
	client redisStore
	policy Policy
	ttl    time.Duration

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client redisStore, policy Policy, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, policy: policy, ttl: ttl, owners: make(map[string]string)}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	return acquireOrdered(ctx, l.policy, normalize(keys), l.try, func(key string) {
		// Release must not be skipped because the caller's context was canceled.
		l.release(context.Background(), key)
	})
}

func (l *RedisLocker) try(ctx context.Context, key string) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.client.LockKey(key), owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.owners[key] = owner
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *RedisLocker) release(ctx context.Context, key string) {
	l.mu.Lock()
	owner := l.owners[key]
	delete(l.owners, key)
	l.mu.Unlock()
	if owner == "" {
		return
	}

	// a false result means the key expired or another holder took it over
	_, _ = l.client.ReleaseIfOwner(ctx, l.client.LockKey(key), owner)
}

var _ redisStore = (*redis.Client)(nil)
