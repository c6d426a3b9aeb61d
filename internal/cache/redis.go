package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "chatgate:responses:"
	DefaultRedisTTL    = 10 * time.Minute

	redisPingTimeout = 5 * time.Second
)

// RedisConfig locates the shared cache.
type RedisConfig struct {
	// URL is redis://[:password@]host:port[/db]
	URL    string
	Prefix string
	TTL    time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultRedisPrefix
	}
	if c.TTL <= 0 {
		c.TTL = DefaultRedisTTL
	}
	return c
}

// RedisCache shares cached responses between gateway instances.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to cfg.URL and fails unless the server answers
// a PING.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: parse url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis cache: ping %s: %w", opts.Addr, err)
	}

	cfg = cfg.withDefaults()
	slog.Info("redis cache connected", "addr", opts.Addr, "prefix", cfg.Prefix, "ttl", cfg.TTL)
	return &RedisCache{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis cache get: %w", err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.rdb.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
