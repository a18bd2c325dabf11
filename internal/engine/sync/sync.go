// Package sync implements C7: the transactional upsert of one cycle's
// discovered PRs, check runs, and derived state-transition history.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// defaultBatchSize bounds the number of rows written per bulk call (§4.7:
// "default 10-100").
const defaultBatchSize = 50

// Synchronizer is the engine-side implementation of C7.
type Synchronizer struct {
	prs     driven.PRStore
	checks  driven.CheckStore
	history driven.HistoryStore

	batchSize int
}

// New constructs a Synchronizer over the given stores.
func New(prs driven.PRStore, checks driven.CheckStore, history driven.HistoryStore) *Synchronizer {
	return &Synchronizer{prs: prs, checks: checks, history: history, batchSize: defaultBatchSize}
}

// WithBatchSize overrides the default batch size used for bulk writes.
func (s *Synchronizer) WithBatchSize(n int) *Synchronizer {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// SyncAll processes every repository's discovery result independently: a
// failure synchronizing one repository is recorded as an error and does not
// stop the others (§8 Scenario E).
func (s *Synchronizer) SyncAll(ctx context.Context, results []model.DiscoveryResult, changesByRepo map[uuid.UUID][]model.StateChange) model.SynchronizationResult {
	started := time.Now()
	var total model.SynchronizationResult

	for _, result := range results {
		one, err := s.syncOne(ctx, result, changesByRepo[result.RepositoryID])
		if err != nil {
			total.Errors = append(total.Errors, discoveryerr.Wrap(discoveryerr.TypePRBatchSync,
				"synchronize repository", err, map[string]any{"repository_id": result.RepositoryID.String()}))
			continue
		}
		total.PRsProcessed += one.PRsProcessed
		total.PRsCreated += one.PRsCreated
		total.PRsUpdated += one.PRsUpdated
		total.ChecksProcessed += one.ChecksProcessed
		total.ChecksCreated += one.ChecksCreated
		total.ChecksUpdated += one.ChecksUpdated
		total.StateTransitions += one.StateTransitions
		total.Errors = append(total.Errors, one.Errors...)
	}

	total.ProcessingTime = time.Since(started)
	return total
}

// syncOne writes a single repository's PRs, then its check runs, then its
// state transitions (§4.7). A failure at any step halts this repository's
// sync and SyncAll surfaces it as pr_batch_sync_error. The underlying stores
// wrap each bulk write in its own transaction, so batches written before the
// failure stay committed; they are not rolled back.
func (s *Synchronizer) syncOne(ctx context.Context, discovery model.DiscoveryResult, changes []model.StateChange) (model.SynchronizationResult, error) {
	var result model.SynchronizationResult

	prIDByNumber, err := s.syncPRs(ctx, discovery, &result)
	if err != nil {
		return result, err
	}

	checkIDByExternalID, err := s.syncChecks(ctx, discovery, prIDByNumber, &result)
	if err != nil {
		return result, err
	}

	if err := s.recordTransitions(ctx, changes, prIDByNumber, checkIDByExternalID, &result); err != nil {
		return result, err
	}

	return result, nil
}

// syncPRs partitions discovered PRs into create/update sets, bulk-writes
// them in batches, and returns the resolved primary id for every PR number.
func (s *Synchronizer) syncPRs(ctx context.Context, discovery model.DiscoveryResult, result *model.SynchronizationResult) (map[int]uuid.UUID, error) {
	ids := make(map[int]uuid.UUID, len(discovery.DiscoveredPRs))
	if len(discovery.DiscoveredPRs) == 0 {
		return ids, nil
	}

	numbers := make([]int, len(discovery.DiscoveredPRs))
	for i, pr := range discovery.DiscoveredPRs {
		numbers[i] = pr.Number
	}

	existing, err := s.prs.GetExisting(ctx, discovery.RepositoryID, numbers)
	if err != nil {
		return nil, err
	}

	var creates, updates []model.PullRequest
	for _, pr := range discovery.DiscoveredPRs {
		row := toStoredPR(discovery.RepositoryID, pr)
		if old, ok := existing[pr.Number]; ok {
			row.ID = old.ID
			row.CreatedAt = old.CreatedAt
			updates = append(updates, row)
		} else {
			creates = append(creates, row)
		}
	}

	for _, batch := range chunkPRs(creates, s.batchSize) {
		inserted, err := s.prs.BulkInsert(ctx, batch)
		if err != nil {
			return nil, err
		}
		for number, id := range inserted {
			ids[number] = id
		}
		result.PRsCreated += len(batch)
	}

	for _, batch := range chunkPRs(updates, s.batchSize) {
		if err := s.prs.BulkUpdate(ctx, batch); err != nil {
			return nil, err
		}
		for _, pr := range batch {
			ids[pr.Number] = pr.ID
		}
		result.PRsUpdated += len(batch)
	}

	result.PRsProcessed += len(discovery.DiscoveredPRs)
	return ids, nil
}

// syncChecks processes every discovered check run across all PRs in the
// repository, partitioned by external_id, and returns an id for every
// written external id. Updated check runs map to their stored primary id;
// newly inserted ones map to the zero UUID, since the store generates their
// ids without returning them.
func (s *Synchronizer) syncChecks(ctx context.Context, discovery model.DiscoveryResult, prIDByNumber map[int]uuid.UUID, result *model.SynchronizationResult) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID)

	var externalIDs []string
	for _, pr := range discovery.DiscoveredPRs {
		for _, cr := range pr.CheckRuns {
			externalIDs = append(externalIDs, cr.ExternalID)
		}
	}
	if len(externalIDs) == 0 {
		return ids, nil
	}

	existing, err := s.checks.GetExisting(ctx, externalIDs)
	if err != nil {
		return nil, err
	}

	var creates, updates []model.CheckRun
	for _, pr := range discovery.DiscoveredPRs {
		prID, ok := prIDByNumber[pr.Number]
		if !ok {
			slog.Warn("sync: skipping check runs for pr with unresolved id", "pr_number", pr.Number)
			continue
		}
		for _, cr := range pr.CheckRuns {
			row := toStoredCheck(prID, cr)
			if old, ok := existing[cr.ExternalID]; ok {
				row.ID = old.ID
				updates = append(updates, row)
			} else {
				creates = append(creates, row)
			}
		}
	}

	for _, batch := range chunkChecks(creates, s.batchSize) {
		if err := s.checks.BulkInsert(ctx, batch); err != nil {
			return nil, err
		}
		for _, cr := range batch {
			ids[cr.ExternalID] = cr.ID
		}
		result.ChecksCreated += len(batch)
	}

	for _, batch := range chunkChecks(updates, s.batchSize) {
		if err := s.checks.BulkUpdate(ctx, batch); err != nil {
			return nil, err
		}
		for _, cr := range batch {
			ids[cr.ExternalID] = cr.ID
		}
		result.ChecksUpdated += len(batch)
	}

	result.ChecksProcessed += len(externalIDs)
	return ids, nil
}

// recordTransitions appends one StateTransition per significant StateChange,
// resolving each change's entity id via the maps built during this cycle's
// PR/check sync passes and writing the resolved id back into the change.
// Changes whose id stays unresolved are dropped from the history.
func (s *Synchronizer) recordTransitions(ctx context.Context, changes []model.StateChange, prIDByNumber map[int]uuid.UUID, checkIDByExternalID map[string]uuid.UUID, result *model.SynchronizationResult) error {
	if len(changes) == 0 {
		return nil
	}

	transitions := make([]model.StateTransition, 0, len(changes))
	for i, c := range changes {
		entityID := c.EntityID
		if entityID == uuid.Nil {
			switch c.EntityKind {
			case model.EntityPullRequest:
				entityID = prIDByNumber[c.PRNumber]
			case model.EntityCheckRun:
				entityID = checkIDByExternalID[c.ExternalID]
			}
			changes[i].EntityID = entityID
		}
		if entityID == uuid.Nil {
			slog.Warn("sync: dropping state transition with unresolved entity id", "entity_kind", c.EntityKind, "pr_number", c.PRNumber)
			continue
		}

		transitions = append(transitions, model.StateTransition{
			ID:         uuid.New(),
			EntityID:   entityID,
			EntityKind: c.EntityKind,
			OldState:   c.OldState,
			NewState:   c.NewState,
			Trigger:    deriveTrigger(c),
			Metadata:   c.Metadata,
			CreatedAt:  c.DetectedAt,
		})
	}

	if err := s.history.Append(ctx, transitions); err != nil {
		return err
	}

	result.StateTransitions += len(transitions)
	return nil
}

// deriveTrigger maps a StateChange onto the TriggerKind that best describes
// its cause (§4.7).
func deriveTrigger(c model.StateChange) model.TriggerKind {
	if c.EntityKind == model.EntityCheckRun {
		if c.Change == model.ChangeDeleted {
			return model.TriggerEdited
		}
		return model.TriggerSynchronize
	}

	switch c.Change {
	case model.ChangeCreated:
		return model.TriggerOpened
	case model.ChangeDeleted:
		return model.TriggerClosed
	case model.ChangeStateChanged:
		switch model.PRState(c.NewState) {
		case model.PRStateClosed, model.PRStateMerged:
			return model.TriggerClosed
		case model.PRStateOpened:
			return model.TriggerReopened
		default:
			return model.TriggerSynchronize
		}
	default:
		if c.MetadataChangeType() == model.ChangeTypeHeadSHAUpdated {
			return model.TriggerSynchronize
		}
		return model.TriggerEdited
	}
}

func toStoredPR(repositoryID uuid.UUID, pr model.DiscoveredPR) model.PullRequest {
	now := time.Now()
	createdAt := pr.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := pr.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

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
		LastChecked:  now,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}

func toStoredCheck(pullRequestID uuid.UUID, cr model.DiscoveredCheckRun) model.CheckRun {
	return model.CheckRun{
		ExternalID:    cr.ExternalID,
		PullRequestID: pullRequestID,
		Name:          cr.Name,
		Status:        cr.Status,
		Conclusion:    cr.Conclusion,
		LogsURL:       cr.LogsURL,
		DetailsURL:    cr.DetailsURL,
		StartedAt:     cr.StartedAt,
		CompletedAt:   cr.CompletedAt,
		Metadata:      cr.Metadata,
	}
}

func chunkPRs(items []model.PullRequest, size int) [][]model.PullRequest {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]model.PullRequest
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

func chunkChecks(items []model.CheckRun, size int) [][]model.CheckRun {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]model.CheckRun
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
