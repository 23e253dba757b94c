// Package redis provides an idempotency.Checker shared across instances
// through Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gar/idempotency"
)

var _ idempotency.Checker = (*RedisChecker)(nil)

// RedisChecker stores each record as a plain key with a TTL.
type RedisChecker struct {
	client redis.Cmdable
	prefix string
}

// Option configures a RedisChecker.
type Option func(*RedisChecker)

// WithPrefix sets the key prefix for records
func WithPrefix(prefix string) Option {
	return func(c *RedisChecker) {
		c.prefix = prefix
	}
}

// New creates a RedisChecker on client.
func New(client redis.Cmdable, opts ...Option) *RedisChecker {
	c := &RedisChecker{
		client: client,
		prefix: "gar:idem:",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisChecker) Check(ctx context.Context, key string) (bool, []byte, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("check idempotency %s: %w", key, err)
	}
	return true, b, nil
}

func (c *RedisChecker) Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, result, ttl).Err(); err != nil {
		return fmt.Errorf("mark idempotency %s: %w", key, err)
	}
	return nil
}
