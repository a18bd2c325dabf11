package stateloader_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/cache"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
	"github.com/prwatch/pr-monitor/internal/engine/stateloader"
)

type fakeStore struct {
	calls   atomic.Int64
	states  map[uuid.UUID]driven.RepositoryState
	failIDs map[uuid.UUID]bool
}

func (f *fakeStore) LoadRepositoryState(_ context.Context, id uuid.UUID) (driven.RepositoryState, error) {
	f.calls.Add(1)
	if f.failIDs[id] {
		return driven.RepositoryState{}, fmt.Errorf("db unavailable")
	}
	if s, ok := f.states[id]; ok {
		return s, nil
	}
	return driven.RepositoryState{PRs: map[int]driven.StoredPRState{}}, nil
}

func TestLoad_HitsDBOnceThenMemoizes(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{states: map[uuid.UUID]driven.RepositoryState{
		id: {PRs: map[int]driven.StoredPRState{1: {PRNumber: 1, State: "opened"}}},
	}}
	loader := stateloader.New(store, cacheadapter.New())

	s1 := loader.Load(context.Background(), id)
	require.Len(t, s1.PRs, 1)

	s2 := loader.Load(context.Background(), id)
	require.Len(t, s2.PRs, 1)

	assert.Equal(t, int64(1), store.calls.Load())
}

func TestLoad_DBErrorYieldsEmptyState(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{failIDs: map[uuid.UUID]bool{id: true}}
	loader := stateloader.New(store, cacheadapter.New())

	state := loader.Load(context.Background(), id)
	assert.NotNil(t, state.PRs)
	assert.Empty(t, state.PRs)
}

func TestLoadBatch_LoadsAllConcurrently(t *testing.T) {
	ids := make([]uuid.UUID, 20)
	states := make(map[uuid.UUID]driven.RepositoryState, 20)
	for i := range ids {
		ids[i] = uuid.New()
		states[ids[i]] = driven.RepositoryState{PRs: map[int]driven.StoredPRState{i: {PRNumber: i}}}
	}
	store := &fakeStore{states: states}
	loader := stateloader.New(store, cacheadapter.New())

	results := loader.LoadBatch(context.Background(), ids)
	require.Len(t, results, 20)
	for i, id := range ids {
		require.Len(t, results[id].PRs, 1)
		assert.Equal(t, i, results[id].PRs[i].PRNumber)
	}
}

func TestLoad_SharedCacheServesAcrossLoaderInstances(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{states: map[uuid.UUID]driven.RepositoryState{
		id: {PRs: map[int]driven.StoredPRState{9: {PRNumber: 9}}},
	}}
	shared := cacheadapter.New()
	loaderA := stateloader.New(store, shared)
	loaderB := stateloader.New(store, shared)

	_ = loaderA.Load(context.Background(), id)
	_ = loaderB.Load(context.Background(), id)

	assert.Equal(t, int64(1), store.calls.Load())
}
