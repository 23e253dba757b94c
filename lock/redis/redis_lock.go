// Package redis provides a Locker backed by Redis SET NX, for sweepers
// running on several instances.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gar"
	"gar/lock"
)

var _ lock.Locker = (*RedisLocker)(nil)

var _ lock.Handle = (*redisLockHandle)(nil)

// extendScript extends the lock only if we still hold it.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// releaseScript deletes the lock only if we still hold it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker implements distributed locking using Redis
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// Option is a functional option for configuring RedisLocker
type Option func(*RedisLocker)

// WithPrefix sets the key prefix for locks
func WithPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a new Redis-based distributed locker
func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "gar:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire sets prefix+key to a fresh token with SET NX PX.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", gar.ErrLockAcquisitionFailed, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held by another process", gar.ErrLockAcquisitionFailed, key)
	}

	return &redisLockHandle{
		client: l.client,
		key:    key,
		full:   l.prefix + key,
		token:  token,
	}, nil
}

// redisLockHandle represents a handle to an acquired Redis lock
type redisLockHandle struct {
	mu       sync.Mutex
	client   redis.Cmdable
	key      string
	full     string
	token    string
	released bool
}

func (h *redisLockHandle) Key() string {
	return h.key
}

// Extend extends the TTL of the held lock
func (h *redisLockHandle) Extend(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return gar.ErrLockNotHeld
	}

	n, err := extendScript.Run(ctx, h.client, []string{h.full}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", h.key, err)
	}
	if n == 0 {
		return gar.ErrLockNotHeld
	}
	return nil
}

// Release deletes the lock if it is still ours
func (h *redisLockHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if _, err := releaseScript.Run(ctx, h.client, []string{h.full}, h.token).Result(); err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}
