package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// TwoTierCache is C2: an L1 in-process TTL+LRU map always present, backed
// optionally by an L2 Redis tier. Misses in L1 that hit L2 are written back
// into L1 (§4.2's promotion rule). Every operation is best-effort: an L2
// failure degrades silently to "miss" or "L1-only" and is counted, never
// returned to the caller.
type TwoTierCache struct {
	l1 *l1Cache
	l2 *l2Redis

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// Option configures a TwoTierCache at construction.
type Option func(*TwoTierCache)

// WithRedis attaches an L2 tier. Without this option the cache runs
// L1-only, which is a valid deployment (§4.2).
func WithRedis(client *redis.Client) Option {
	return func(c *TwoTierCache) {
		c.l2 = newL2Redis(client)
	}
}

// WithL1Size overrides the default L1 max entry count.
func WithL1Size(maxSize int) Option {
	return func(c *TwoTierCache) {
		c.l1 = newL1Cache(maxSize)
	}
}

// New builds a TwoTierCache. Call WithRedis to enable the L2 tier.
func New(opts ...Option) *TwoTierCache {
	c := &TwoTierCache{l1: newL1Cache(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TwoTierCache) Get(ctx context.Context, key string) ([]byte, bool) {
	nk := NormalizeKey(key)

	if v, ok := c.l1.get(nk); ok {
		c.l1Hits.Add(1)
		return v, true
	}

	if c.l2 != nil {
		v, err := c.l2.get(ctx, nk)
		if err != nil {
			c.errors.Add(1)
		} else if v != nil {
			c.l2Hits.Add(1)
			c.l1.set(nk, v, defaultL1TTL)
			return v, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

func (c *TwoTierCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	nk := NormalizeKey(key)
	c.sets.Add(1)
	c.l1.set(nk, value, capL1TTL(ttl))
	if c.l2 != nil {
		if err := c.l2.set(ctx, nk, value, ttl); err != nil {
			c.errors.Add(1)
		}
	}
}

func (c *TwoTierCache) GetWithETag(ctx context.Context, key string) ([]byte, string, bool) {
	nk := NormalizeKey(key)
	v, ok := c.Get(ctx, key)
	if !ok {
		return nil, "", false
	}

	if etag, ok := c.l1.get(etagKey(nk)); ok {
		return v, string(etag), true
	}
	if c.l2 != nil {
		etag, err := c.l2.get(ctx, etagKey(nk))
		if err != nil {
			c.errors.Add(1)
		} else if etag != nil {
			return v, string(etag), true
		}
	}
	return v, "", true
}

func (c *TwoTierCache) SetWithETag(ctx context.Context, key string, value []byte, etag string, ttl time.Duration) {
	nk := NormalizeKey(key)
	c.sets.Add(1)
	c.l1.set(nk, value, capL1TTL(ttl))
	c.l1.set(etagKey(nk), []byte(etag), capL1TTL(ttl))
	if c.l2 != nil {
		if err := c.l2.set(ctx, nk, value, ttl); err != nil {
			c.errors.Add(1)
		}
		if err := c.l2.set(ctx, etagKey(nk), []byte(etag), ttl); err != nil {
			c.errors.Add(1)
		}
	}
}

func (c *TwoTierCache) Invalidate(ctx context.Context, pattern string) {
	c.l1.invalidateMatching(pattern)
	if c.l2 != nil {
		keys, err := c.l2.scanMatching(ctx, pattern)
		if err != nil {
			c.errors.Add(1)
			return
		}
		if err := c.l2.del(ctx, keys...); err != nil {
			c.errors.Add(1)
		}
	}
}

func (c *TwoTierCache) Stats() driven.CacheStats {
	return driven.CacheStats{
		L1Hits: c.l1Hits.Load(),
		L2Hits: c.l2Hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Errors: c.errors.Load(),
	}
}

func (c *TwoTierCache) HealthCheck(ctx context.Context) driven.CacheHealth {
	health := driven.CacheHealth{L1OK: c.l1.healthCheck()}
	if c.l2 == nil {
		health.L2OK = true
		return health
	}
	health.L2Present = true
	health.L2OK = c.l2.ping(ctx) == nil
	return health
}

// Close releases the L2 tier's connection pool, if one is configured. L1 is
// a plain in-process map and needs no disposal.
func (c *TwoTierCache) Close() error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.client.Close()
}

const defaultL1TTL = 60 * time.Second

// capL1TTL bounds an L1 entry's lifetime by both the caller's TTL and
// defaultL1TTL. Values promoted from L2 on a Get are stored in L1 for
// defaultL1TTL, independent of how long L2 still holds them.
func capL1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > defaultL1TTL {
		return defaultL1TTL
	}
	return ttl
}

var _ driven.Cache = (*TwoTierCache)(nil)
