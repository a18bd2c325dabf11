package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
)

// DiscoveryResult is the per-repository transient aggregate produced by a
// single scan (C3 + C4).
type DiscoveryResult struct {
	RepositoryID  uuid.UUID
	RepositoryURL string
	DiscoveredPRs []DiscoveredPR
	StartedAt     time.Time
	FinishedAt    time.Time
	APICallsUsed  int
	CacheHits     int
	CacheMisses   int
	Errors        []*discoveryerr.Error
}

// ProcessingTime returns FinishedAt - StartedAt, or zero if not finished.
func (d DiscoveryResult) ProcessingTime() time.Duration {
	if d.FinishedAt.IsZero() || d.StartedAt.IsZero() {
		return 0
	}
	return d.FinishedAt.Sub(d.StartedAt)
}

// Successful reports whether the scan produced no errors.
func (d DiscoveryResult) Successful() bool {
	return len(d.Errors) == 0
}

// IsComprehensive applies the §4.6 deletion heuristic: a scan is treated as
// a comprehensive listing of all live PRs only when it yielded fewer than
// 100 discovered PRs (otherwise it may have been truncated by pagination
// caps or a `since` filter, and absence does not imply deletion).
func (d DiscoveryResult) IsComprehensive() bool {
	return len(d.DiscoveredPRs) < 100
}
