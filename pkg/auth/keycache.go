package auth

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// KeyCache — caches verification keys fetched from identity providers
// ---------------------------------------------------------------------------

// KeyCache stores fetched signing keys, keyed by JWKS endpoint URL and key
// ID. Entries expire after the cache TTL so rotated-out keys age away
// without operator action. Keys are stored in JWK form rather than as
// parsed crypto objects so implementations can serialize them.
//
// Implementations must be safe for concurrent use.
type KeyCache interface {
	// Get returns the cached key for (jwksURL, kid) if present and not
	// expired. The kid may be empty when the token header carried no key
	// ID; such entries are cached under a separate slot.
	Get(ctx context.Context, jwksURL, kid string) (*JWK, bool)

	// Put stores a key under (jwksURL, kid), replacing any existing
	// entry (last writer wins).
	Put(ctx context.Context, jwksURL, kid string, key *JWK)

	// InvalidateAll removes every cached key. Used when an identity
	// provider performs an emergency key rotation.
	InvalidateAll(ctx context.Context) error
}

// noKidSlot is the cache slot used for keys resolved without a key ID.
const noKidSlot = "default"

// cacheKey builds the composite cache key for a JWKS URL and key ID.
func cacheKey(jwksURL, kid string) string {
	if kid == "" {
		kid = noKidSlot
	}
	return jwksURL + "|" + kid
}

// memoryKeyEntry stores a cached key and the time it was stored.
type memoryKeyEntry struct {
	key      *JWK
	storedAt time.Time
}

// MemoryKeyCache is an in-process [KeyCache] guarded by a mutex. The clock
// is injectable for tests; production callers use [NewMemoryKeyCache] which
// wires time.Now.
type MemoryKeyCache struct {
	mu      sync.RWMutex
	entries map[string]memoryKeyEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryKeyCache creates a MemoryKeyCache with the given TTL.
func NewMemoryKeyCache(ttl time.Duration) *MemoryKeyCache {
	return NewMemoryKeyCacheWithClock(ttl, time.Now)
}

// NewMemoryKeyCacheWithClock creates a MemoryKeyCache with an injected
// clock. Tests use this to exercise expiry without sleeping.
func NewMemoryKeyCacheWithClock(ttl time.Duration, now func() time.Time) *MemoryKeyCache {
	return &MemoryKeyCache{
		entries: make(map[string]memoryKeyEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Compile-time interface compliance check.
var _ KeyCache = (*MemoryKeyCache)(nil)

// Get returns the cached key for (jwksURL, kid) if present and not expired.
func (c *MemoryKeyCache) Get(_ context.Context, jwksURL, kid string) (*JWK, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(jwksURL, kid)]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		return nil, false
	}
	return entry.key, true
}

// Put stores a key under (jwksURL, kid), replacing any existing entry.
func (c *MemoryKeyCache) Put(_ context.Context, jwksURL, kid string, key *JWK) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(jwksURL, kid)] = memoryKeyEntry{key: key, storedAt: c.now()}
}

// InvalidateAll removes every cached key.
func (c *MemoryKeyCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryKeyEntry)
	return nil
}

// Len returns the number of cached entries, expired or not. Used by the
// diagnostics handler.
func (c *MemoryKeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
