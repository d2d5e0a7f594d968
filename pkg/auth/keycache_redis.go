package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/HelioDesk/heliodesk-auth/pkg/clients/redis"
)

// ---------------------------------------------------------------------------
// RedisKeyCache — shared KeyCache for multi-replica deployments
// ---------------------------------------------------------------------------

// keyRegistry is the Redis set holding every cache key written by this
// cache, so InvalidateAll can remove them without a keyspace scan.
const keyRegistry = "auth:jwks:keys"

// keyPrefix namespaces cached key entries in the shared Redis keyspace.
const keyPrefix = "auth:jwks:key:"

// RedisKeyCache is a [KeyCache] backed by the platform Redis client. It is
// intended for multi-replica deployments where an in-process cache would
// fetch the same JWKS once per replica and where InvalidateAll must take
// effect across all replicas at once.
//
// Keys are stored as JWK JSON with a per-entry TTL, and every written cache
// key is tracked in a registry set so invalidation does not need SCAN.
// Redis failures degrade to cache misses; the resolver then falls back to
// fetching from the provider.
type RedisKeyCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisKeyCache creates a RedisKeyCache with the given client and TTL.
// If logger is nil, slog.Default() is used.
func NewRedisKeyCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisKeyCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisKeyCache{client: client, ttl: ttl, logger: logger}
}

// Compile-time interface compliance check.
var _ KeyCache = (*RedisKeyCache)(nil)

// Get returns the cached key for (jwksURL, kid), or a miss if the entry is
// absent, expired, or Redis is unreachable.
func (c *RedisKeyCache) Get(ctx context.Context, jwksURL, kid string) (*JWK, bool) {
	val, err := c.client.Get(ctx, keyPrefix+cacheKey(jwksURL, kid))
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.WarnContext(ctx, "auth: redis key cache read failed, treating as miss",
				"jwks_url", jwksURL, "error", err)
		}
		return nil, false
	}

	var key JWK
	if err := json.Unmarshal([]byte(val), &key); err != nil {
		c.logger.WarnContext(ctx, "auth: redis key cache entry is corrupt, treating as miss",
			"jwks_url", jwksURL, "error", err)
		return nil, false
	}
	return &key, true
}

// Put stores a key under (jwksURL, kid) with the cache TTL. Write failures
// are logged and otherwise ignored; the next Get simply misses.
func (c *RedisKeyCache) Put(ctx context.Context, jwksURL, kid string, key *JWK) {
	data, err := json.Marshal(key)
	if err != nil {
		c.logger.WarnContext(ctx, "auth: failed to serialize key for redis cache",
			"jwks_url", jwksURL, "error", err)
		return
	}

	entryKey := keyPrefix + cacheKey(jwksURL, kid)
	if err := c.client.Set(ctx, entryKey, string(data), c.ttl); err != nil {
		c.logger.WarnContext(ctx, "auth: redis key cache write failed",
			"jwks_url", jwksURL, "error", err)
		return
	}
	if _, err := c.client.SAdd(ctx, keyRegistry, entryKey); err != nil {
		c.logger.WarnContext(ctx, "auth: redis key registry update failed",
			"jwks_url", jwksURL, "error", err)
	}
}

// InvalidateAll removes every cached key tracked in the registry.
func (c *RedisKeyCache) InvalidateAll(ctx context.Context) error {
	members, err := c.client.SMembers(ctx, keyRegistry)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		if _, err := c.client.Del(ctx, members...); err != nil {
			return err
		}
	}
	_, err = c.client.Del(ctx, keyRegistry)
	return err
}
