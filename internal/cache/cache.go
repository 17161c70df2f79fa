package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key/value store shared by all server replicas. Analysis
// results and rate limit counters live here.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// Hit counts one request against the fixed window stored at key.
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Window is the state of a fixed-window counter after a Hit.
type Window struct {
	Count   int64
	ResetIn time.Duration
}

// RedisCache is the Cache used in deployments.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses a redis:// or rediss:// URL. No connection is made
// until the first command; call Ping to check reachability at startup.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = "clinidoc"
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Hit increments the counter and starts its expiry only when the counter
// is new, so the window does not slide while a client keeps calling.
// ExpireNX needs Redis 7.
func (c *RedisCache) Hit(ctx context.Context, key string, window time.Duration) (Window, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Window{}, fmt.Errorf("redis hit %s: %w", key, err)
	}

	resetIn := ttl.Val()
	if resetIn <= 0 || resetIn > window {
		resetIn = window
	}
	return Window{Count: incr.Val(), ResetIn: resetIn}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
