// Package orchestrator implements C9, the heart of the core: run_cycle
// drives priority sorting, bounded fan-out, per-repository scanning and
// check attachment, state-change detection, synchronization, event
// publication, and metrics recording for one discovery cycle.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
	"github.com/prwatch/pr-monitor/internal/engine/events"
	"github.com/prwatch/pr-monitor/internal/engine/metrics"
	"github.com/prwatch/pr-monitor/internal/engine/statechange"
)

// Scanner is the narrow capability C9 needs from C3 (§9's redesign note:
// "narrow capability sets... injected at construction").
type Scanner interface {
	Scan(ctx context.Context, repo model.Repository, since time.Time, maxPRs int) model.DiscoveryResult
}

// CheckAttacher is the narrow capability C9 needs from C4.
type CheckAttacher interface {
	Attach(ctx context.Context, owner, repo string, prs []model.DiscoveredPR, errs *[]*discoveryerr.Error)
}

// StateLoader is the narrow capability C9 needs from C5.
type StateLoader interface {
	LoadBatch(ctx context.Context, repositoryIDs []uuid.UUID) map[uuid.UUID]driven.RepositoryState
}

// Synchronizer is the narrow capability C9 needs from C7.
type Synchronizer interface {
	SyncAll(ctx context.Context, results []model.DiscoveryResult, changesByRepo map[uuid.UUID][]model.StateChange) model.SynchronizationResult
}

// MetricsRecorder is the narrow capability C9 needs from C11.
type MetricsRecorder interface {
	RecordCycle(metrics.CycleSample)
	Summary(hours int) metrics.Summary
}

const (
	defaultMaxConcurrentRepositories = 10
	defaultMinTokenReservation       = 10
	defaultTokenWaitTimeout          = 30 * time.Second
	defaultMaxPRsPerRepository       = 1000

	// breakerConsecutiveFailures trips a repository's circuit after this
	// many consecutive remote-call failures (§7: "After >=3 consecutive
	// failures a repository's failure_count crosses into critical").
	breakerConsecutiveFailures = 3
	breakerOpenDuration        = 60 * time.Second
)

// Orchestrator is the engine-side implementation of C9.
type Orchestrator struct {
	repos       driven.RepoStore
	scanner     Scanner
	checks      CheckAttacher
	stateLoader StateLoader
	synchronizer Synchronizer
	limiter     driven.RateLimiter
	cache       driven.Cache
	publisher   *events.Publisher
	metrics     MetricsRecorder

	maxConcurrentRepositories int
	minTokenReservation       int
	tokenWaitTimeout          time.Duration
	maxPRsPerRepository       int

	priorityFunc func(model.Repository, time.Time) model.Priority

	breakersMu sync.Mutex
	breakers   map[uuid.UUID]*gobreaker.CircuitBreaker

	state cycleState
}

// New constructs an Orchestrator. priorityFunc is typically
// scanner.ResolvePriority; it is injected so tests can control ordering
// without depending on the scanner package's internals.
func New(
	repos driven.RepoStore,
	scanner Scanner,
	checks CheckAttacher,
	stateLoader StateLoader,
	synchronizer Synchronizer,
	limiter driven.RateLimiter,
	cache driven.Cache,
	publisher *events.Publisher,
	metricsRecorder MetricsRecorder,
	priorityFunc func(model.Repository, time.Time) model.Priority,
) *Orchestrator {
	return &Orchestrator{
		repos:                     repos,
		scanner:                   scanner,
		checks:                    checks,
		stateLoader:               stateLoader,
		synchronizer:              synchronizer,
		limiter:                   limiter,
		cache:                     cache,
		publisher:                 publisher,
		metrics:                   metricsRecorder,
		maxConcurrentRepositories: defaultMaxConcurrentRepositories,
		minTokenReservation:       defaultMinTokenReservation,
		tokenWaitTimeout:          defaultTokenWaitTimeout,
		maxPRsPerRepository:       defaultMaxPRsPerRepository,
		priorityFunc:              priorityFunc,
		breakers:                  make(map[uuid.UUID]*gobreaker.CircuitBreaker),
	}
}

// WithMaxConcurrentRepositories overrides the default fan-out window (10).
func (o *Orchestrator) WithMaxConcurrentRepositories(n int) *Orchestrator {
	if n > 0 {
		o.maxConcurrentRepositories = n
	}
	return o
}

// WithMinTokenReservation overrides the default per-repository token reservation.
func (o *Orchestrator) WithMinTokenReservation(n int) *Orchestrator {
	if n > 0 {
		o.minTokenReservation = n
	}
	return o
}

// WithMaxPRsPerRepository overrides the default per-repository PR cap.
func (o *Orchestrator) WithMaxPRsPerRepository(n int) *Orchestrator {
	if n > 0 {
		o.maxPRsPerRepository = n
	}
	return o
}

// repoOutcome pairs a per-repository DiscoveryResult with the Repository
// record it was produced from, so later steps (event publication) don't
// need to look the repository up again.
type repoOutcome struct {
	result model.DiscoveryResult
	repo   *model.Repository
}

// RunCycle implements §4.9's run_cycle(repository_ids) -> [DiscoveryResult].
func (o *Orchestrator) RunCycle(ctx context.Context, repositoryIDs []uuid.UUID) []model.DiscoveryResult {
	started := time.Now()
	o.state.begin(len(repositoryIDs))
	defer o.state.end(started)

	ordered, repoByID := o.sortByPriority(ctx, repositoryIDs)

	outcomes := o.fanOut(ctx, ordered, repoByID)

	results := make([]model.DiscoveryResult, len(outcomes))
	repos := make(map[uuid.UUID]model.Repository, len(outcomes))
	for i, oc := range outcomes {
		results[i] = oc.result
		if oc.repo != nil {
			repos[oc.repo.ID] = *oc.repo
		}
		o.state.recordProgress(oc.result)
	}

	statesByRepo := o.stateLoader.LoadBatch(ctx, repositoryIDs)

	changesByRepo := make(map[uuid.UUID][]model.StateChange, len(results))
	totalChanges := 0
	for _, result := range results {
		changes := statechange.Detect(result, statesByRepo[result.RepositoryID])
		if len(changes) > 0 {
			changesByRepo[result.RepositoryID] = changes
			totalChanges += len(changes)
		}
	}
	o.state.recordStateChanges(totalChanges)

	syncResult := o.synchronizer.SyncAll(ctx, results, changesByRepo)

	if o.publisher != nil {
		o.publisher.PublishCycle(ctx, repos, results, changesByRepo)
	}

	o.recordMetrics(started, results, syncResult, totalChanges)

	return results
}

// sortByPriority implements §4.9 Step 1: resolve priority(r) concurrently
// (failures default to normal), then sort ascending by priority value. It
// returns the ordered ids alongside every successfully looked-up
// Repository, so fanOut does not need to re-fetch them.
func (o *Orchestrator) sortByPriority(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, map[uuid.UUID]*model.Repository) {
	type scored struct {
		id       uuid.UUID
		priority model.Priority
	}

	now := time.Now()
	scoredList := make([]scored, len(ids))
	repoByID := make(map[uuid.UUID]*model.Repository, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			priority := model.PriorityNormal
			repo, err := o.repos.Get(ctx, id)
			if err != nil {
				slog.Warn("orchestrator: priority resolution failed, defaulting to normal", "repository_id", id, "error", err)
			} else if repo != nil {
				priority = o.priorityFunc(*repo, now)
				mu.Lock()
				repoByID[id] = repo
				mu.Unlock()
			}
			scoredList[i] = scored{id: id, priority: priority}
		}(i, id)
	}
	wg.Wait()

	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].priority < scoredList[j].priority })

	ordered := make([]uuid.UUID, len(scoredList))
	for i, s := range scoredList {
		ordered[i] = s.id
	}
	return ordered, repoByID
}

// fanOut implements §4.9 Step 2: process repositories concurrently under a
// global semaphore bounded to maxConcurrentRepositories.
func (o *Orchestrator) fanOut(ctx context.Context, ids []uuid.UUID, repoByID map[uuid.UUID]*model.Repository) []repoOutcome {
	sem := semaphore.NewWeighted(int64(o.maxConcurrentRepositories))
	outcomes := make([]repoOutcome, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = repoOutcome{result: model.DiscoveryResult{
				RepositoryID: id,
				StartedAt:    time.Now(),
				FinishedAt:   time.Now(),
				Errors: []*discoveryerr.Error{discoveryerr.Wrap(discoveryerr.TypeDiscoveryCycle,
					"cycle cancelled before repository could be scheduled", err, map[string]any{"repository_id": id.String()})},
			}}
			continue
		}

		wg.Add(1)
		taskName := id.String()
		o.state.setActive(taskName, true)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)
			defer o.state.setActive(taskName, false)
			outcomes[i] = o.processRepository(ctx, id, repoByID[id])
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

// processRepository implements §4.9's per-repository processing: look up
// the repository, reserve a token quota, scan, attach checks, and update
// poll outcome. It never panics or returns an error — a failure always
// becomes an errored DiscoveryResult.
func (o *Orchestrator) processRepository(ctx context.Context, repositoryID uuid.UUID, repo *model.Repository) repoOutcome {
	started := time.Now()

	if repo == nil {
		fetched, err := o.repos.Get(ctx, repositoryID)
		if err != nil || fetched == nil {
			return repoOutcome{result: errorResult(repositoryID, "", started, discoveryerr.New(
				discoveryerr.TypeRepositoryNotFound, "repository not found", map[string]any{"repository_id": repositoryID.String()}))}
		}
		repo = fetched
	}

	if repo.Status != model.RepoStatusActive {
		return repoOutcome{
			repo: repo,
			result: errorResult(repo.ID, repo.URL, started, discoveryerr.New(
				discoveryerr.TypeRepositoryProcessing, "repository is not active",
				map[string]any{"status": string(repo.Status)})),
		}
	}

	priority := o.priorityFunc(*repo, started)
	if !o.limiter.AcquireWithPriority(ctx, "core", toRateLimitPriority(priority), o.minTokenReservation, o.tokenWaitTimeout) {
		return repoOutcome{
			repo: repo,
			result: errorResult(repo.ID, repo.URL, started, discoveryerr.New(
				discoveryerr.TypeRateLimitExceeded, "could not reserve token quota for repository scan",
				map[string]any{"resource": "core"})),
		}
	}

	result := o.scanWithBreaker(ctx, *repo)

	if result.Successful() && len(result.DiscoveredPRs) > 0 {
		if owner, name, err := repo.OwnerRepo(); err == nil {
			o.checks.Attach(ctx, owner, name, result.DiscoveredPRs, &result.Errors)
		}
	}

	failureCount := repo.FailureCount
	status := model.RepoStatusActive
	if result.Successful() {
		failureCount = 0
	} else {
		failureCount++
		if failureCount >= breakerConsecutiveFailures+1 {
			status = model.RepoStatusError
		}
	}

	if err := o.repos.UpdatePollOutcome(ctx, repo.ID, time.Now(), failureCount, status); err != nil {
		slog.Error("orchestrator: failed to persist poll outcome", "repository_id", repo.ID, "error", err)
	}

	return repoOutcome{repo: repo, result: result}
}

// scanWithBreaker wraps the scan in a per-repository circuit breaker
// (SPEC_FULL DOMAIN STACK: "trips a repository into backoff after
// consecutive github_api_error/unexpected_error results").
func (o *Orchestrator) scanWithBreaker(ctx context.Context, repo model.Repository) model.DiscoveryResult {
	cb := o.circuitBreakerFor(repo.ID)

	raw, err := cb.Execute(func() (interface{}, error) {
		res := o.scanner.Scan(ctx, repo, repo.LastPolledAt, o.maxPRsPerRepository)
		return res, tripErrorOf(res)
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errorResult(repo.ID, repo.URL, time.Now(), discoveryerr.Wrap(
				discoveryerr.TypeRepositoryProcessing, "circuit breaker open, skipping scan", err, nil))
		}
		// tripErrorOf only signals the breaker; the scan result (with its
		// own errors already attached) is still the value to return.
		if res, ok := raw.(model.DiscoveryResult); ok {
			return res
		}
		return errorResult(repo.ID, repo.URL, time.Now(), discoveryerr.Wrap(discoveryerr.TypeUnexpected, "scan failed", err, nil))
	}

	res, _ := raw.(model.DiscoveryResult)
	return res
}

// tripErrorOf reports a non-nil error only when the scan's errors include a
// kind the circuit breaker should count toward tripping.
func tripErrorOf(result model.DiscoveryResult) error {
	for _, e := range result.Errors {
		if e.Kind == discoveryerr.TypeGitHubAPIError || e.Kind == discoveryerr.TypeUnexpected {
			return e
		}
	}
	return nil
}

func (o *Orchestrator) circuitBreakerFor(repositoryID uuid.UUID) *gobreaker.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()

	if cb, ok := o.breakers[repositoryID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        repositoryID.String(),
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("orchestrator: circuit breaker state change", "repository_id", name, "from", from, "to", to)
		},
	})
	o.breakers[repositoryID] = cb
	return cb
}

func toRateLimitPriority(p model.Priority) driven.RateLimitPriority {
	switch p {
	case model.PriorityCritical:
		return driven.PriorityCritical
	case model.PriorityHigh:
		return driven.PriorityHigh
	case model.PriorityLow:
		return driven.PriorityLow
	default:
		return driven.PriorityNormal
	}
}

func errorResult(repositoryID uuid.UUID, url string, started time.Time, err *discoveryerr.Error) model.DiscoveryResult {
	return model.DiscoveryResult{
		RepositoryID:  repositoryID,
		RepositoryURL: url,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		Errors:        []*discoveryerr.Error{err},
	}
}

// recordMetrics implements §4.9 Step 6.
func (o *Orchestrator) recordMetrics(started time.Time, results []model.DiscoveryResult, syncResult model.SynchronizationResult, stateChanges int) {
	var prs, checks, errs, cacheHits, cacheMisses int
	for _, r := range results {
		prs += len(r.DiscoveredPRs)
		errs += len(r.Errors)
		cacheHits += r.CacheHits
		cacheMisses += r.CacheMisses
		for _, pr := range r.DiscoveredPRs {
			checks += len(pr.CheckRuns)
		}
	}
	errs += len(syncResult.Errors)

	if o.metrics != nil {
		o.metrics.RecordCycle(metrics.CycleSample{
			RepositoriesProcessed: len(results),
			PRsProcessed:          prs,
			ChecksProcessed:       checks,
			StateChanges:          stateChanges,
			Errors:                errs,
			CacheHits:             cacheHits,
			CacheMisses:           cacheMisses,
			Duration:              time.Since(started),
		})
	}
}

// Status implements §4.9's health surface.
func (o *Orchestrator) Status() Status {
	snapshot := o.state.snapshot()

	status := "healthy"
	if snapshot.running {
		status = "running"
	}
	if snapshot.recentErrorsLastHour() > degradedErrorThreshold {
		status = "degraded"
	}

	rateLimitSnapshot := make(map[string]driven.BucketStatus, 3)
	for _, resource := range []string{"core", "search", "graphql"} {
		if o.limiter != nil {
			if bs, ok := o.limiter.Status(resource); ok {
				rateLimitSnapshot[resource] = bs
			}
		}
	}

	var cacheStats driven.CacheStats
	if o.cache != nil {
		cacheStats = o.cache.Stats()
	}

	var summary metrics.Summary
	if o.metrics != nil {
		summary = o.metrics.Summary(24)
	}

	progress := CycleProgress{Processed: snapshot.processed, Total: snapshot.total}
	if snapshot.total > 0 {
		progress.Percent = float64(snapshot.processed) / float64(snapshot.total) * 100
	}

	return Status{
		Running:              snapshot.running,
		OverallStatus:        status,
		Progress:             progress,
		PRCount:              snapshot.prCount,
		CheckCount:           snapshot.checkCount,
		StateChangeCount:     snapshot.stateChangeCount,
		ElapsedSeconds:       snapshot.elapsed().Seconds(),
		ErrorCount:           snapshot.errorCount,
		RecentErrors:         snapshot.recentErrors,
		RateLimitSnapshot:    rateLimitSnapshot,
		CacheStats:           cacheStats,
		ConcurrencySlotsFree: o.maxConcurrentRepositories - len(snapshot.activeTasks),
		ActiveTasks:          snapshot.activeTasks,
		LastBatches:          snapshot.lastBatches,
		LastCycleCompletedAt: snapshot.lastCycleCompletedAt,
		RollingMetrics:       summary,
	}
}
