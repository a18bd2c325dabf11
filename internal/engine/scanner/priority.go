package scanner

import (
	"time"

	"github.com/prwatch/pr-monitor/internal/domain/model"
)

// ResolvePriority implements §4.3's ordered rule list, first match wins.
// Any panic-worthy condition (none exist here, but kept defensive per the
// spec's "on any error during resolution, default to normal") falls back
// to model.PriorityNormal.
func ResolvePriority(repo model.Repository, now time.Time) model.Priority {
	if override, ok := parseOverridePriority(repo.ConfigOverrideString("discovery_priority")); ok {
		return override
	}
	if repo.FailureCount > 3 {
		return model.PriorityCritical
	}
	if repo.FailureCount > 1 {
		return model.PriorityHigh
	}
	if repo.LastPolledAt.IsZero() {
		return model.PriorityHigh
	}

	since := now.Sub(repo.LastPolledAt)
	if since > time.Hour {
		return model.PriorityHigh
	}
	if since > 30*time.Minute {
		return model.PriorityNormal
	}

	switch {
	case repo.PollingInterval > 0 && repo.PollingInterval <= 5*time.Minute:
		return model.PriorityHigh
	case repo.PollingInterval > 0 && repo.PollingInterval <= 15*time.Minute:
		return model.PriorityNormal
	default:
		return model.PriorityLow
	}
}

func parseOverridePriority(raw string) (model.Priority, bool) {
	switch raw {
	case "critical":
		return model.PriorityCritical, true
	case "high":
		return model.PriorityHigh, true
	case "normal":
		return model.PriorityNormal, true
	case "low":
		return model.PriorityLow, true
	default:
		return 0, false
	}
}
