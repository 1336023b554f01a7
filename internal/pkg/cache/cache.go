// Package cache implements a cache-aside layer over Redis. Callers ask
// for a key and supply a compute function; misses and cache failures
// both fall through to compute, so correctness never depends on Redis
// being up. Keys are namespaced per tenant.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache memoizes read results with a TTL and supports single-key and
// pattern invalidation. Safe for concurrent use.
type Cache struct {
	rdb *redis.Client
}

// New creates a cache-aside layer on the given Redis client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func cacheKey(tenantID, key string) string {
	return fmt.Sprintf("cache:%s:%s", tenantID, key)
}

// GetOrSet returns the cached value for (tenantID, key) into dest, or
// invokes compute, stores its result with the given TTL, and fills dest
// from it. dest must be a pointer. Any cache error is treated as a miss
// and logged, never returned; only compute errors propagate.
func (c *Cache) GetOrSet(ctx context.Context, tenantID, key string, ttl time.Duration, dest any, compute func(context.Context) (any, error)) error {
	ck := cacheKey(tenantID, key)

	data, err := c.rdb.Get(ctx, ck).Bytes()
	if err == nil {
		if err := json.Unmarshal(data, dest); err == nil {
			return nil
		}
		// Corrupt entry: drop it and recompute.
		log.Printf("[Cache] corrupt entry %s, recomputing", ck)
		c.rdb.Del(ctx, ck)
	} else if err != redis.Nil {
		log.Printf("[Cache] read error for %s (treated as miss): %v", ck, err)
	}

	value, err := compute(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", ck, err)
	}
	if value != nil {
		if err := c.rdb.Set(ctx, ck, encoded, ttl).Err(); err != nil {
			log.Printf("[Cache] write error for %s: %v", ck, err)
		}
	}

	return json.Unmarshal(encoded, dest)
}

// Invalidate removes a single key from the tenant's namespace.
func (c *Cache) Invalidate(ctx context.Context, tenantID, key string) {
	ck := cacheKey(tenantID, key)
	if err := c.rdb.Del(ctx, ck).Err(); err != nil {
		log.Printf("[Cache] invalidate error for %s: %v", ck, err)
	}
}

// InvalidatePattern removes every key matching the glob pattern under
// the tenant's namespace (e.g. "campaign:*").
func (c *Cache) InvalidatePattern(ctx context.Context, tenantID, pattern string) {
	match := cacheKey(tenantID, pattern)

	iter := c.rdb.Scan(ctx, 0, match, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("[Cache] scan error for %s: %v", match, err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[Cache] invalidate pattern error for %s: %v", match, err)
		return
	}
	log.Printf("[Cache] invalidated %d keys matching %s", len(keys), match)
}

// ClearTenant removes every cached entry for a tenant.
func (c *Cache) ClearTenant(ctx context.Context, tenantID string) {
	c.InvalidatePattern(ctx, tenantID, "*")
}
