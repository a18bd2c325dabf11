package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/pr-monitor/internal/domain/model"
)

type fakeRepoStore struct {
	due    []model.Repository
	dueErr error
}

func (f *fakeRepoStore) Get(context.Context, uuid.UUID) (*model.Repository, error) { return nil, nil }
func (f *fakeRepoStore) ListActive(context.Context) ([]model.Repository, error)    { return nil, nil }
func (f *fakeRepoStore) ListDue(context.Context, time.Time) ([]model.Repository, error) {
	return f.due, f.dueErr
}
func (f *fakeRepoStore) UpdatePollOutcome(context.Context, uuid.UUID, time.Time, int, model.RepoStatus) error {
	return nil
}

type fakeRunner struct {
	calls [][]uuid.UUID
}

func (f *fakeRunner) RunCycle(_ context.Context, ids []uuid.UUID) []model.DiscoveryResult {
	f.calls = append(f.calls, ids)
	results := make([]model.DiscoveryResult, len(ids))
	for i, id := range ids {
		results[i] = model.DiscoveryResult{RepositoryID: id}
	}
	return results
}

type fakeStopper struct{ stopped bool }

func (f *fakeStopper) Stop() { f.stopped = true }

type fakeCloser struct {
	closed bool
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func TestRunDueCycle_CallsRunnerWithDueRepositories(t *testing.T) {
	repoID := uuid.New()
	repos := &fakeRepoStore{due: []model.Repository{{ID: repoID}}}
	runner := &fakeRunner{}

	s, err := New(repos, runner, time.Hour, nil)
	require.NoError(t, err)

	s.runDueCycle(context.Background())

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []uuid.UUID{repoID}, runner.calls[0])

	at, n := s.LastCycle()
	assert.Equal(t, 1, n)
	assert.False(t, at.IsZero())
	assert.True(t, s.Running())
}

func TestRunDueCycle_NoDueRepositoriesSkipsRunner(t *testing.T) {
	repos := &fakeRepoStore{due: nil}
	runner := &fakeRunner{}

	s, err := New(repos, runner, time.Hour, nil)
	require.NoError(t, err)

	s.runDueCycle(context.Background())

	assert.Empty(t, runner.calls)
}

func TestRunDueCycle_StoreErrorSkipsTickWithoutPanicking(t *testing.T) {
	repos := &fakeRepoStore{dueErr: fmt.Errorf("db unavailable")}
	runner := &fakeRunner{}

	s, err := New(repos, runner, time.Hour, nil)
	require.NoError(t, err)

	s.runDueCycle(context.Background())

	assert.Empty(t, runner.calls)
}

func TestShutdown_StopsLimiterAndClosesOwnedResources(t *testing.T) {
	repos := &fakeRepoStore{}
	runner := &fakeRunner{}
	limiter := &fakeStopper{}
	closerA := &fakeCloser{}
	closerB := &fakeCloser{err: fmt.Errorf("close failed")}

	s, err := New(repos, runner, time.Hour, limiter, closerA, closerB)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))

	assert.True(t, limiter.stopped)
	assert.True(t, closerA.closed)
	assert.True(t, closerB.closed)
	assert.False(t, s.Running())
}

func TestStart_RunsInitialCycleThenStopsOnCancellation(t *testing.T) {
	repoID := uuid.New()
	repos := &fakeRepoStore{due: []model.Repository{{ID: repoID}}}
	runner := &fakeRunner{}

	s, err := New(repos, runner, 50*time.Millisecond, &fakeStopper{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.NotEmpty(t, runner.calls)
}
