package driven

import (
	"context"
	"time"
)

// Cache is the two-tier (L1 in-process + L2 distributed) cache strategy
// port (§4.2). Every method is best-effort: a backend failure must surface
// as a miss, never as a propagated error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	GetWithETag(ctx context.Context, key string) (value []byte, etag string, ok bool)
	SetWithETag(ctx context.Context, key string, value []byte, etag string, ttl time.Duration)
	Invalidate(ctx context.Context, pattern string)
	Stats() CacheStats
	HealthCheck(ctx context.Context) CacheHealth
}

// CacheStats are the counters and derived rates described in §4.2.
type CacheStats struct {
	L1Hits  int64
	L2Hits  int64
	Misses  int64
	Sets    int64
	Errors  int64
}

// HitRate returns the overall hit rate across both tiers.
func (s CacheStats) HitRate() float64 {
	total := s.L1Hits + s.L2Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits+s.L2Hits) / float64(total)
}

// L1HitRate returns the fraction of all lookups served from L1 alone.
func (s CacheStats) L1HitRate() float64 {
	total := s.L1Hits + s.L2Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits) / float64(total)
}

// CacheHealth reports the result of a round-trip health probe per layer.
type CacheHealth struct {
	L1OK bool
	L2OK bool
	// L2Present is false when no distributed tier is configured; L2OK is
	// vacuously true in that case and must not be treated as a failure.
	L2Present bool
}
