package driven

import (
	"context"

	"github.com/prwatch/pr-monitor/internal/domain/model"
)

// EventPublisher is the driven port for C8. Delivery is at-least-once,
// best-effort: implementations must never propagate a failure to the
// caller; they log and count it instead.
type EventPublisher interface {
	NewPR(ctx context.Context, repo model.Repository, pr model.PullRequest)
	StateChange(ctx context.Context, change model.StateChange)
	FailedCheck(ctx context.Context, repo model.Repository, prNumber int, check model.CheckRun)
	DiscoveryComplete(ctx context.Context, results []model.DiscoveryResult)
}
