package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is the production realization of Backend, shared by all
// instances. This is the only implementation that makes rate limiting correct
// across a multi-instance deployment.
type RedisBackend struct {
	client redis.Cmdable
}

// NewRedis constructs a Redis-backed store.
func NewRedis(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", ErrUnavailable, key, err)
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Increment uses a pipelined INCR + EXPIRE NX so the counter bump and the
// first-creation TTL land in one round trip. EXPIRE NX only sets the TTL when
// the key has none, i.e. on the increment that created it.
func (b *RedisBackend) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := b.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: incr %q: %v", ErrUnavailable, key, err)
	}
	return incr.Val(), nil
}
