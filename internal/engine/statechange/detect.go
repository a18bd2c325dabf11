// Package statechange implements C6: a pure diff between a cycle's
// discovered repository state and its last-known stored state.
package statechange

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// comprehensiveThreshold is the §4.6 deletion heuristic: a scan yielding
// fewer discovered PRs than this is treated as a full listing.
const comprehensiveThreshold = 100

// Detect compares one repository's DiscoveryResult against its last-known
// stored state and returns every significant StateChange (§4.6). It is a
// pure function: no I/O, no mutation of its arguments.
func Detect(discovered model.DiscoveryResult, stored driven.RepositoryState) []model.StateChange {
	now := time.Now()
	var changes []model.StateChange

	seen := make(map[int]bool, len(discovered.DiscoveredPRs))
	for _, pr := range discovered.DiscoveredPRs {
		seen[pr.Number] = true
		storedPR, existed := stored.PRs[pr.Number]
		changes = append(changes, detectPR(discovered.RepositoryID, pr, storedPR, existed, now)...)
		changes = append(changes, detectCheckRuns(discovered.RepositoryID, pr, storedPR, now)...)
	}

	if len(discovered.DiscoveredPRs) < comprehensiveThreshold {
		for number, s := range stored.PRs {
			if seen[number] {
				continue
			}
			changes = append(changes, model.StateChange{
				RepositoryID: discovered.RepositoryID,
				EntityKind:   model.EntityPullRequest,
				EntityID:     s.PrimaryID,
				ExternalID:   fmt.Sprintf("%d", number),
				PRNumber:     number,
				OldState:     string(s.State),
				NewState:     "deleted",
				Change:       model.ChangeDeleted,
				DetectedAt:   now,
			})
		}
	}

	return changes
}

// detectPR evaluates the mutually-exclusive PR-level rules (§4.6's table):
// at most one emission per PR, in the listed priority order. A plain
// metadata-only update is not significant and produces no emission.
func detectPR(repositoryID uuid.UUID, pr model.DiscoveredPR, stored driven.StoredPRState, existed bool, now time.Time) []model.StateChange {
	base := model.StateChange{
		RepositoryID: repositoryID,
		EntityKind:   model.EntityPullRequest,
		ExternalID:   fmt.Sprintf("%d", pr.Number),
		PRNumber:     pr.Number,
		DetectedAt:   now,
	}

	switch {
	case !existed:
		base.NewState = string(pr.State)
		base.Change = model.ChangeCreated
		return []model.StateChange{base}

	case pr.State != stored.State:
		base.EntityID = stored.PrimaryID
		base.OldState = string(stored.State)
		base.NewState = string(pr.State)
		base.Change = model.ChangeStateChanged
		return []model.StateChange{base}

	case pr.HeadSHA != stored.HeadSHA:
		base.EntityID = stored.PrimaryID
		base.OldState = stored.HeadSHA
		base.NewState = pr.HeadSHA
		base.Change = model.ChangeUpdated
		base.Metadata = map[string]string{"change_type": model.ChangeTypeHeadSHAUpdated}
		return []model.StateChange{base}

	case pr.UpdatedAt.After(stored.UpdatedAt):
		// metadata_updated is not significant (§4.6) and is dropped here.
		return nil

	default:
		return nil
	}
}

// detectCheckRuns evaluates the per-check-run rules for one PR, comparing
// discovered check runs (by name) against the stored per-name conclusions.
func detectCheckRuns(repositoryID uuid.UUID, pr model.DiscoveredPR, stored driven.StoredPRState, now time.Time) []model.StateChange {
	var changes []model.StateChange

	discoveredByName := make(map[string]model.DiscoveredCheckRun, len(pr.CheckRuns))
	for _, cr := range pr.CheckRuns {
		discoveredByName[cr.Name] = cr
	}

	for name, cr := range discoveredByName {
		storedCheck, existed := stored.Checks[name]
		newConclusion := string(cr.Conclusion)
		if newConclusion == "" {
			newConclusion = "running"
		}

		switch {
		case !existed:
			changes = append(changes, model.StateChange{
				RepositoryID: repositoryID,
				EntityKind:   model.EntityCheckRun,
				ExternalID:   cr.ExternalID,
				PRNumber:     pr.Number,
				NewState:     newConclusion,
				Change:       model.ChangeCreated,
				Metadata:     map[string]string{"check_name": name},
				DetectedAt:   now,
			})

		case storedCheck.Conclusion != newConclusion:
			kind := model.ChangeUpdated
			if cr.Conclusion.IsTerminal() {
				kind = model.ChangeStateChanged
			}
			// A non-terminal "updated" (e.g. queued -> in_progress) is not
			// significant and is dropped (§4.6).
			if kind == model.ChangeUpdated {
				continue
			}
			changes = append(changes, model.StateChange{
				RepositoryID: repositoryID,
				EntityKind:   model.EntityCheckRun,
				ExternalID:   cr.ExternalID,
				PRNumber:     pr.Number,
				OldState:     storedCheck.Conclusion,
				NewState:     newConclusion,
				Change:       kind,
				Metadata:     map[string]string{"check_name": name},
				DetectedAt:   now,
			})
		}
	}

	for name, storedCheck := range stored.Checks {
		if _, ok := discoveredByName[name]; ok {
			continue
		}
		changes = append(changes, model.StateChange{
			RepositoryID: repositoryID,
			EntityKind:   model.EntityCheckRun,
			PRNumber:     pr.Number,
			OldState:     storedCheck.Conclusion,
			NewState:     "deleted",
			Change:       model.ChangeDeleted,
			Metadata:     map[string]string{"check_name": name},
			DetectedAt:   now,
		})
	}

	return changes
}
