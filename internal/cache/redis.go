// Package cache holds the two caches of the engine: a Redis cache that
// distributes normalized interactions to other replicas, and a bounded
// in-process cache for recently generated safety reports.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rx-safety-engine/internal/domain"
)

// InteractionKeyPrefix namespaces normalized interactions in Redis.
const InteractionKeyPrefix = "ddi:interaction:"

// InteractionCache wraps a Redis client holding normalized interactions keyed
// by canonical key.
type InteractionCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// CachedInteraction is a normalized interaction with cache metadata.
type CachedInteraction struct {
	Data      *domain.NormalizedInteraction `json:"data"`
	CachedAt  time.Time                     `json:"cached_at"`
	ExpiresAt time.Time                     `json:"expires_at"`
}

// NewInteractionCache connects to the Redis instance named by config.RedisURL.
func NewInteractionCache(config domain.CacheConfig) (*InteractionCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewInteractionCacheFromClient(client, config.DefaultTTL), nil
}

// NewInteractionCacheFromClient wraps an existing client.
func NewInteractionCacheFromClient(client *redis.Client, defaultTTL time.Duration) *InteractionCache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &InteractionCache{redis: client, defaultTTL: defaultTTL}
}

// Publish stores every interaction under its canonical key in one pipeline.
func (c *InteractionCache) Publish(ctx context.Context, interactions []domain.NormalizedInteraction, ttl time.Duration) error {
	if len(interactions) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	pipe := c.redis.Pipeline()
	for i := range interactions {
		cached := CachedInteraction{
			Data:      &interactions[i],
			CachedAt:  now,
			ExpiresAt: now.Add(ttl),
		}

		jsonData, err := json.Marshal(cached)
		if err != nil {
			return fmt.Errorf("failed to marshal interaction %s: %w", interactions[i].Key, err)
		}
		pipe.Set(ctx, InteractionKeyPrefix+interactions[i].Key, jsonData, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish interactions: %w", err)
	}
	return nil
}

// Get retrieves a cached interaction by canonical key.
func (c *InteractionCache) Get(ctx context.Context, key string) (*domain.NormalizedInteraction, bool, error) {
	redisKey := InteractionKeyPrefix + key

	val, err := c.redis.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get interaction cache: %w", err)
	}

	var cached CachedInteraction
	if err := json.Unmarshal([]byte(val), &cached); err != nil || cached.Data == nil {
		c.redis.Del(ctx, redisKey)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, redisKey)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// Invalidate removes cached interactions by canonical key.
func (c *InteractionCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = InteractionKeyPrefix + k
	}
	return c.redis.Del(ctx, redisKeys...).Err()
}

// Ping checks if Redis connection is alive
func (c *InteractionCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *InteractionCache) Close() error {
	return c.redis.Close()
}
