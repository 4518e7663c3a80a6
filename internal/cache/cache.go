// Package cache implements the external cache lookup/store contract,
// narrowed from a MultiLevelCache shape down to the two-method contract
// the core actually depends on: the cache itself remains an external
// collaborator, this package is a concrete, swappable implementation of
// that collaborator plus the test double used in package tests.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dawsonblock/ds-router/internal/types"
)

// Entry is what cache_store persists for a fingerprint.
type Entry struct {
	Text      string
	Outcome   types.GenerationOutcome
	CreatedAt time.Time
}

// LookupResult is the result of cache_lookup.
type LookupResult struct {
	Hit        bool
	Text       string
	Metadata   map[string]string
	Similarity float64
}

// Cache is the contract the Pipeline Orchestrator consumes. Errors from
// either method are never fatal: Lookup errors are treated as a miss,
// Store errors are logged and swallowed by the caller.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string, groundingRequired bool) (LookupResult, error)
	Store(ctx context.Context, fingerprint string, outcome types.GenerationOutcome) error
}

// similarityThreshold is the minimum similarity for a lookup hit to be
// used as-is; exact-match lookups (this implementation) always report
// similarity=1.0.
const similarityThreshold = 0.9

// MemoryCache is an in-process, mutex-guarded cache used for local
// development and as the package's own test double, grounded on the
// local-LRU half of a MultiLevelCache shape (without eviction, since the
// router's contract doesn't require one — eviction policy belongs to the
// external cache system).
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Lookup(_ context.Context, fingerprint string, _ bool) (LookupResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return LookupResult{Hit: false}, nil
	}
	return LookupResult{Hit: true, Text: e.Text, Similarity: 1.0}, nil
}

func (c *MemoryCache) Store(_ context.Context, fingerprint string, outcome types.GenerationOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = Entry{Text: outcome.Text, Outcome: outcome, CreatedAt: time.Now()}
	return nil
}

// RedisCache stores entries in Redis, grounded on the Redis half of a
// MultiLevelCache shape.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache constructs a RedisCache backed by client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "dsrouter:cache:"}
}

// NewRedisCacheFromManager builds a RedisCache on top of a connection
// Manager's pooled client, so the response cache shares the Manager's
// pool size, retry count, and health-check loop instead of dialing a
// second, unmanaged connection.
func NewRedisCacheFromManager(mgr *Manager, ttl time.Duration) *RedisCache {
	return NewRedisCache(mgr.Client(), ttl)
}

func (c *RedisCache) key(fingerprint string) string { return c.prefix + fingerprint }

func (c *RedisCache) Lookup(ctx context.Context, fingerprint string, _ bool) (LookupResult, error) {
	text, err := c.client.Get(ctx, c.key(fingerprint)).Result()
	if err == redis.Nil {
		return LookupResult{Hit: false}, nil
	}
	if err != nil {
		return LookupResult{Hit: false}, err
	}
	return LookupResult{Hit: true, Text: text, Similarity: 1.0}, nil
}

func (c *RedisCache) Store(ctx context.Context, fingerprint string, outcome types.GenerationOutcome) error {
	return c.client.Set(ctx, c.key(fingerprint), outcome.Text, c.ttl).Err()
}
