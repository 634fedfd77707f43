package topics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "podpipe:topics:"

// Cache stores analyses by key
type Cache interface {
	Get(ctx context.Context, key string) (*Analysis, error)
	Set(ctx context.Context, key string, analysis *Analysis, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// RedisCache implements Cache on Redis string keys with expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheWithURL creates a cache from a redis:// URL.
func NewRedisCacheWithURL(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get loads a cached analysis.
func (c *RedisCache) Get(ctx context.Context, key string) (*Analysis, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topic cache: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode cached topics: %w", err)
	}
	return &analysis, nil
}

// Set stores an analysis for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, analysis *Analysis, ttl time.Duration) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write topic cache: %w", err)
	}
	return nil
}
