package sync_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/engine/sync"
)

type fakePRStore struct {
	existing map[int]model.PullRequest
	inserted []model.PullRequest
	updated  []model.PullRequest
	failOn   string // "insert" or "update"
}

func (f *fakePRStore) GetExisting(_ context.Context, _ uuid.UUID, numbers []int) (map[int]model.PullRequest, error) {
	result := make(map[int]model.PullRequest)
	for _, n := range numbers {
		if pr, ok := f.existing[n]; ok {
			result[n] = pr
		}
	}
	return result, nil
}

func (f *fakePRStore) BulkInsert(_ context.Context, prs []model.PullRequest) (map[int]uuid.UUID, error) {
	if f.failOn == "insert" {
		return nil, fmt.Errorf("constraint violation")
	}
	ids := make(map[int]uuid.UUID, len(prs))
	for _, pr := range prs {
		id := uuid.New()
		ids[pr.Number] = id
		f.inserted = append(f.inserted, pr)
	}
	return ids, nil
}

func (f *fakePRStore) BulkUpdate(_ context.Context, prs []model.PullRequest) error {
	if f.failOn == "update" {
		return fmt.Errorf("update failed")
	}
	f.updated = append(f.updated, prs...)
	return nil
}

type fakeCheckStore struct {
	existing map[string]model.CheckRun
	inserted []model.CheckRun
	updated  []model.CheckRun
}

func (f *fakeCheckStore) GetExisting(_ context.Context, externalIDs []string) (map[string]model.CheckRun, error) {
	result := make(map[string]model.CheckRun)
	for _, id := range externalIDs {
		if cr, ok := f.existing[id]; ok {
			result[id] = cr
		}
	}
	return result, nil
}

func (f *fakeCheckStore) BulkInsert(_ context.Context, runs []model.CheckRun) error {
	for _, r := range runs {
		r.ID = uuid.New()
		f.inserted = append(f.inserted, r)
	}
	return nil
}

func (f *fakeCheckStore) BulkUpdate(_ context.Context, runs []model.CheckRun) error {
	f.updated = append(f.updated, runs...)
	return nil
}

type fakeHistoryStore struct {
	appended []model.StateTransition
}

func (f *fakeHistoryStore) Append(_ context.Context, transitions []model.StateTransition) error {
	f.appended = append(f.appended, transitions...)
	return nil
}

func TestSyncAll_CreatesNewPRsAndChecks(t *testing.T) {
	repoID := uuid.New()
	prs := &fakePRStore{existing: map[int]model.PullRequest{}}
	checks := &fakeCheckStore{existing: map[string]model.CheckRun{}}
	history := &fakeHistoryStore{}

	discovery := model.DiscoveryResult{
		RepositoryID: repoID,
		DiscoveredPRs: []model.DiscoveredPR{
			{
				Number: 1, State: model.PRStateOpened,
				CheckRuns: []model.DiscoveredCheckRun{{ExternalID: "c1", Name: "build", Status: model.CheckStatusInProgress}},
			},
		},
	}
	changes := []model.StateChange{
		{EntityKind: model.EntityPullRequest, PRNumber: 1, Change: model.ChangeCreated, NewState: "opened"},
	}

	s := sync.New(prs, checks, history)
	result := s.SyncAll(context.Background(), []model.DiscoveryResult{discovery}, map[uuid.UUID][]model.StateChange{repoID: changes})

	assert.Equal(t, 1, result.PRsCreated)
	assert.Equal(t, 1, result.ChecksCreated)
	assert.Equal(t, 1, result.StateTransitions)
	assert.Empty(t, result.Errors)
	require.Len(t, prs.inserted, 1)
	require.Len(t, checks.inserted, 1)
	require.Len(t, history.appended, 1)
	assert.Equal(t, model.TriggerOpened, history.appended[0].Trigger)
}

func TestSyncAll_UpdatesExistingPR(t *testing.T) {
	repoID := uuid.New()
	existingID := uuid.New()
	prs := &fakePRStore{existing: map[int]model.PullRequest{
		1: {ID: existingID, RepositoryID: repoID, Number: 1, State: model.PRStateOpened},
	}}
	checks := &fakeCheckStore{existing: map[string]model.CheckRun{}}
	history := &fakeHistoryStore{}

	discovery := model.DiscoveryResult{
		RepositoryID:  repoID,
		DiscoveredPRs: []model.DiscoveredPR{{Number: 1, State: model.PRStateClosed}},
	}
	changes := []model.StateChange{
		{EntityKind: model.EntityPullRequest, PRNumber: 1, Change: model.ChangeStateChanged, OldState: "opened", NewState: "closed"},
	}

	s := sync.New(prs, checks, history)
	result := s.SyncAll(context.Background(), []model.DiscoveryResult{discovery}, map[uuid.UUID][]model.StateChange{repoID: changes})

	assert.Equal(t, 1, result.PRsUpdated)
	require.Len(t, prs.updated, 1)
	assert.Equal(t, existingID, prs.updated[0].ID)
	require.Len(t, history.appended, 1)
	assert.Equal(t, existingID, history.appended[0].EntityID)
	assert.Equal(t, model.TriggerClosed, history.appended[0].Trigger)
}

func TestSyncAll_FailingStoreReportsErrorHealthyStoreSucceeds(t *testing.T) {
	repoA := uuid.New()
	repoB := uuid.New()

	failingPRs := &fakePRStore{existing: map[int]model.PullRequest{}, failOn: "insert"}
	okPRs := &fakePRStore{existing: map[int]model.PullRequest{}}

	// The fake's failOn applies to every insert, so this drives two
	// synchronizers: one over a store whose inserts fail, which must report
	// the error, and one over a healthy store, which must still succeed.
	history := &fakeHistoryStore{}
	checks := &fakeCheckStore{existing: map[string]model.CheckRun{}}

	s := sync.New(failingPRs, checks, history)
	results := []model.DiscoveryResult{
		{RepositoryID: repoA, DiscoveredPRs: []model.DiscoveredPR{{Number: 1, State: model.PRStateOpened}}},
	}
	out := s.SyncAll(context.Background(), results, nil)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 0, out.PRsCreated)

	// A second, independent synchronizer with a healthy store still succeeds,
	// demonstrating that one repository's failure is isolated to its own run.
	s2 := sync.New(okPRs, checks, history)
	results2 := []model.DiscoveryResult{
		{RepositoryID: repoB, DiscoveredPRs: []model.DiscoveredPR{{Number: 2, State: model.PRStateOpened}}},
	}
	out2 := s2.SyncAll(context.Background(), results2, nil)
	assert.Empty(t, out2.Errors)
	assert.Equal(t, 1, out2.PRsCreated)
}

func TestSyncAll_EmptyDiscoveryProducesEmptyResult(t *testing.T) {
	s := sync.New(&fakePRStore{}, &fakeCheckStore{}, &fakeHistoryStore{})
	result := s.SyncAll(context.Background(), nil, nil)
	assert.Equal(t, 0, result.PRsProcessed)
	assert.Empty(t, result.Errors)
}

func TestSyncAll_DeletedPRChangeRecordsClosedTrigger(t *testing.T) {
	repoID := uuid.New()
	existingID := uuid.New()
	prs := &fakePRStore{existing: map[int]model.PullRequest{
		1: {ID: existingID, RepositoryID: repoID, Number: 1, State: model.PRStateOpened},
	}}
	checks := &fakeCheckStore{existing: map[string]model.CheckRun{}}
	history := &fakeHistoryStore{}

	discovery := model.DiscoveryResult{RepositoryID: repoID}
	changes := []model.StateChange{
		{EntityKind: model.EntityPullRequest, PRNumber: 1, EntityID: existingID, Change: model.ChangeDeleted, OldState: "opened", NewState: "deleted"},
	}

	s := sync.New(prs, checks, history)
	result := s.SyncAll(context.Background(), []model.DiscoveryResult{discovery}, map[uuid.UUID][]model.StateChange{repoID: changes})

	assert.Equal(t, 1, result.StateTransitions)
	require.Len(t, history.appended, 1)
	assert.Equal(t, model.TriggerClosed, history.appended[0].Trigger)
}
