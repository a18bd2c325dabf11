// Package events implements C8: the orchestrator-facing publication
// sequence over the driven.EventPublisher port. The port itself lives in
// internal/domain/port/driven; concrete sinks live in
// internal/adapter/driven/events.
package events

import (
	"context"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Publisher drives one cycle's worth of event emission in the order §4.9
// Step 5 specifies: discovery_complete, then every state change (emitting
// new_pr alongside any change that created a pull request), then
// failed_check for every completed check run with conclusion=failure.
type Publisher struct {
	sink driven.EventPublisher
}

// New wraps a driven.EventPublisher sink. A nil sink is not replaced:
// supplying one (for example a NullPublisher) is the caller's
// responsibility — this package only sequences calls, it does not supply a
// default.
func New(sink driven.EventPublisher) *Publisher {
	return &Publisher{sink: sink}
}

// PublishCycle emits every event for one completed run_cycle. repos maps
// each processed repository's id to its Repository record, gathered by the
// orchestrator during per-repository processing.
func (p *Publisher) PublishCycle(ctx context.Context, repos map[uuid.UUID]model.Repository, results []model.DiscoveryResult, changesByRepo map[uuid.UUID][]model.StateChange) {
	p.sink.DiscoveryComplete(ctx, results)

	for _, result := range results {
		repo, ok := repos[result.RepositoryID]
		if !ok {
			continue
		}

		prByNumber := make(map[int]model.DiscoveredPR, len(result.DiscoveredPRs))
		for _, pr := range result.DiscoveredPRs {
			prByNumber[pr.Number] = pr
		}

		for _, change := range changesByRepo[result.RepositoryID] {
			p.sink.StateChange(ctx, change)

			if change.EntityKind == model.EntityPullRequest && change.Change == model.ChangeCreated {
				if discovered, ok := prByNumber[change.PRNumber]; ok {
					p.sink.NewPR(ctx, repo, toEventPR(result.RepositoryID, discovered))
				}
			}
		}

		for _, pr := range result.DiscoveredPRs {
			for _, check := range pr.CheckRuns {
				if check.Conclusion == model.ConclusionFailure {
					p.sink.FailedCheck(ctx, repo, pr.Number, toEventCheckRun(check))
				}
			}
		}
	}
}

// toEventPR projects a transient DiscoveredPR into the persisted shape the
// EventPublisher port expects. The id is left zero: consumers of new_pr care
// about the PR's content, not its storage-layer primary key.
func toEventPR(repositoryID uuid.UUID, pr model.DiscoveredPR) model.PullRequest {
	return model.PullRequest{
		RepositoryID: repositoryID,
		Number:       pr.Number,
		Title:        pr.Title,
		Author:       pr.Author,
		State:        pr.State,
		Draft:        pr.Draft,
		BaseBranch:   pr.BaseBranch,
		BaseSHA:      pr.BaseSHA,
		HeadBranch:   pr.HeadBranch,
		HeadSHA:      pr.HeadSHA,
		URL:          pr.URL,
		Metadata:     pr.Metadata,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
	}
}

func toEventCheckRun(cr model.DiscoveredCheckRun) model.CheckRun {
	return model.CheckRun{
		ExternalID:  cr.ExternalID,
		Name:        cr.Name,
		Status:      cr.Status,
		Conclusion:  cr.Conclusion,
		LogsURL:     cr.LogsURL,
		DetailsURL:  cr.DetailsURL,
		StartedAt:   cr.StartedAt,
		CompletedAt: cr.CompletedAt,
		Metadata:    cr.Metadata,
	}
}
