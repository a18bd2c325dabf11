package events

import (
	"context"
	"log/slog"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// LogPublisher emits one structured log line per event, matching the
// teacher's one-statement-per-significant-event logging convention. It is
// the simplest real downstream consumer — a sink that always "delivers"
// successfully, satisfying at-least-once with no external dependency.
type LogPublisher struct{}

var _ driven.EventPublisher = LogPublisher{}

// NewLog builds a LogPublisher.
func NewLog() LogPublisher { return LogPublisher{} }

func (LogPublisher) NewPR(_ context.Context, repo model.Repository, pr model.PullRequest) {
	slog.Info("event: new_pr", "repository", repo.URL, "pr_number", pr.Number, "title", pr.Title, "author", pr.Author)
}

func (LogPublisher) StateChange(_ context.Context, change model.StateChange) {
	slog.Info("event: state_change", "repository_id", change.RepositoryID, "entity_kind", change.EntityKind,
		"pr_number", change.PRNumber, "old_state", change.OldState, "new_state", change.NewState, "change", change.Change)
}

func (LogPublisher) FailedCheck(_ context.Context, repo model.Repository, prNumber int, check model.CheckRun) {
	slog.Warn("event: failed_check", "repository", repo.URL, "pr_number", prNumber,
		"check_name", check.Name, "conclusion", check.Conclusion, "details_url", check.DetailsURL)
}

func (LogPublisher) DiscoveryComplete(_ context.Context, results []model.DiscoveryResult) {
	var prs, errs int
	for _, r := range results {
		prs += len(r.DiscoveredPRs)
		errs += len(r.Errors)
	}
	slog.Info("event: discovery_complete", "repositories", len(results), "prs_discovered", prs, "errors", errs)
}
