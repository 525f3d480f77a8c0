package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a CacheStore backed by Redis, for hosts running several
// engine processes against the same rule catalog. Redis failures degrade to
// cache misses; the engine never fails an execution because the cache is
// down.
type RedisCache struct {
	client *redis.Client
	prefix string
	ctx    context.Context
}

// NewRedisCache wraps an existing client. The prefix namespaces keys so
// several engines can share one Redis instance.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "arbiter"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ctx:    context.Background(),
	}
}

func (c *RedisCache) key(k CacheKey) string {
	return fmt.Sprintf("%s:validate:%s:%s:%s:%d:%d",
		c.prefix, k.ActionType, k.ActorID, k.Phase, k.Turn, k.CatalogVersion)
}

// Get fetches a cached verdict. Any Redis or decode error is a miss.
func (c *RedisCache) Get(key CacheKey) (Verdict, bool) {
	raw, err := c.client.Get(c.ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis cache read failed", "error", err)
		}
		return Verdict{}, false
	}

	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("redis cache entry undecodable, dropping", "error", err)
		c.client.Del(c.ctx, c.key(key))
		return Verdict{}, false
	}
	return v, true
}

// Set stores a verdict with Redis-native expiry.
func (c *RedisCache) Set(key CacheKey, v Verdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("redis cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(c.ctx, c.key(key), raw, ttl).Err(); err != nil {
		slog.Warn("redis cache write failed", "error", err)
	}
}

// Purge removes every key under this cache's prefix.
func (c *RedisCache) Purge() {
	pattern := c.prefix + ":validate:*"
	iter := c.client.Scan(c.ctx, 0, pattern, 0).Iterator()
	for iter.Next(c.ctx) {
		c.client.Del(c.ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis cache purge failed", "error", err)
	}
}
