// Package stateloader implements C5: cached, concurrency-bounded loading
// of each repository's last-known persisted PR/check state.
package stateloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

const (
	defaultMemoTTL       = 60 * time.Second
	defaultCacheTTL      = 300 * time.Second
	defaultBatchParallel = 10
)

type memoEntry struct {
	state     driven.RepositoryState
	expiresAt time.Time
}

// Loader is C5.
type Loader struct {
	store driven.StateSnapshotStore
	cache driven.Cache

	mu   sync.Mutex
	memo map[uuid.UUID]memoEntry

	memoTTL  time.Duration
	cacheTTL time.Duration
	parallel int64
}

// New builds a Loader over the persisted-state store and the shared cache.
func New(store driven.StateSnapshotStore, cache driven.Cache) *Loader {
	return &Loader{
		store:    store,
		cache:    cache,
		memo:     make(map[uuid.UUID]memoEntry),
		memoTTL:  defaultMemoTTL,
		cacheTTL: defaultCacheTTL,
		parallel: defaultBatchParallel,
	}
}

// Load returns a single repository's stored state. Database errors are
// swallowed into an empty state so the calling cycle can proceed (§4.5).
// Lookup order: in-process memo (60s) -> shared cache (300s) -> DB.
func (l *Loader) Load(ctx context.Context, repositoryID uuid.UUID) driven.RepositoryState {
	if state, ok := l.fromMemo(repositoryID); ok {
		return state
	}

	cacheKey := stateCacheKey(repositoryID)
	if l.cache != nil {
		if body, ok := l.cache.Get(ctx, cacheKey); ok {
			var state driven.RepositoryState
			if err := json.Unmarshal(body, &state); err == nil {
				l.memoize(repositoryID, state)
				return state
			}
		}
	}

	state, err := l.store.LoadRepositoryState(ctx, repositoryID)
	if err != nil {
		slog.Warn("state loader db read failed, proceeding with empty state",
			"repository_id", repositoryID, "error", err)
		state = driven.RepositoryState{PRs: map[int]driven.StoredPRState{}}
	}

	if l.cache != nil {
		if body, err := json.Marshal(state); err == nil {
			l.cache.Set(ctx, cacheKey, body, l.cacheTTL)
		}
	}
	l.memoize(repositoryID, state)
	return state
}

func stateCacheKey(repositoryID uuid.UUID) string {
	return fmt.Sprintf("state:%s", repositoryID)
}

// LoadBatch loads many repositories concurrently under a semaphore (§4.5,
// default parallelism 10), returning each repository's state keyed by id.
func (l *Loader) LoadBatch(ctx context.Context, repositoryIDs []uuid.UUID) map[uuid.UUID]driven.RepositoryState {
	results := make(map[uuid.UUID]driven.RepositoryState, len(repositoryIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := semaphore.NewWeighted(l.parallel)
	for _, id := range repositoryIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results[id] = driven.RepositoryState{PRs: map[int]driven.StoredPRState{}}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)

			state := l.Load(ctx, id)
			mu.Lock()
			results[id] = state
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}

func (l *Loader) fromMemo(id uuid.UUID) (driven.RepositoryState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.memo[id]
	if !ok || time.Now().After(entry.expiresAt) {
		return driven.RepositoryState{}, false
	}
	return entry.state, true
}

func (l *Loader) memoize(id uuid.UUID, state driven.RepositoryState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memo[id] = memoEntry{state: state, expiresAt: time.Now().Add(l.memoTTL)}
}
