package orchestrator

import (
	"sync"
	"time"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
	"github.com/prwatch/pr-monitor/internal/engine/metrics"
)

// recentErrorsKept bounds the "last N errors" surface §4.9 exposes.
const recentErrorsKept = 5

// lastBatchesKept bounds the per-cycle batch-stat history §4.9 exposes.
const lastBatchesKept = 10

// degradedErrorThreshold is the number of errors within the last hour that
// pushes the orchestrator's overall status to degraded (§4.9/§7).
const degradedErrorThreshold = 10

// CycleProgress is the processed/total/percent figure shown while a cycle
// is running.
type CycleProgress struct {
	Processed int
	Total     int
	Percent   float64
}

// BatchStat summarizes one completed run_cycle for the rolling history.
type BatchStat struct {
	RepositoriesProcessed int
	PRsProcessed          int
	StateChanges          int
	Errors                int
	Duration              time.Duration
	CompletedAt           time.Time
}

// Status is the full §4.9 health surface returned by Orchestrator.Status.
type Status struct {
	Running              bool
	OverallStatus        string
	Progress             CycleProgress
	PRCount              int
	CheckCount           int
	StateChangeCount     int
	ElapsedSeconds       float64
	ErrorCount           int
	RecentErrors         []string
	RateLimitSnapshot    map[string]driven.BucketStatus
	CacheStats           driven.CacheStats
	ConcurrencySlotsFree int
	ActiveTasks          []string
	LastBatches          []BatchStat
	LastCycleCompletedAt time.Time
	RollingMetrics       metrics.Summary
}

// timestampedError pairs an error message with when it was recorded, so the
// "errors in the last hour" degraded-status rule can expire old entries.
type timestampedError struct {
	message string
	at      time.Time
}

// cycleState is the orchestrator's mutex-guarded view of in-flight and
// recently-completed cycle progress, used to build Status.
type cycleState struct {
	mu sync.Mutex

	running   bool
	startedAt time.Time
	total     int
	processed int

	prCount          int
	checkCount       int
	stateChangeCount int
	errorCount       int
	// cycleStartErrors is errorCount as it stood when the current cycle began.
	cycleStartErrors int

	recentErrors []timestampedError
	activeTasks  map[string]struct{}
	lastBatches  []BatchStat

	lastCycleCompletedAt time.Time
}

func (c *cycleState) begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.startedAt = time.Now()
	c.total = total
	c.processed = 0
	c.prCount = 0
	c.checkCount = 0
	c.stateChangeCount = 0
	c.cycleStartErrors = c.errorCount
	if c.activeTasks == nil {
		c.activeTasks = make(map[string]struct{})
	}
}

func (c *cycleState) setActive(task string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.activeTasks[task] = struct{}{}
	} else {
		delete(c.activeTasks, task)
	}
}

func (c *cycleState) recordProgress(result model.DiscoveryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processed++
	c.prCount += len(result.DiscoveredPRs)
	for _, pr := range result.DiscoveredPRs {
		c.checkCount += len(pr.CheckRuns)
	}
	for _, e := range result.Errors {
		c.errorCount++
		c.recentErrors = append(c.recentErrors, timestampedError{message: e.Error(), at: time.Now()})
	}
	if len(c.recentErrors) > recentErrorsKept*4 {
		c.recentErrors = c.recentErrors[len(c.recentErrors)-recentErrorsKept*4:]
	}
}

func (c *cycleState) recordStateChanges(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateChangeCount += n
}

func (c *cycleState) end(started time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running = false
	c.lastCycleCompletedAt = time.Now()
	c.lastBatches = append(c.lastBatches, BatchStat{
		RepositoriesProcessed: c.processed,
		PRsProcessed:          c.prCount,
		StateChanges:          c.stateChangeCount,
		Errors:                c.errorCount - c.cycleStartErrors,
		Duration:              time.Since(started),
		CompletedAt:           c.lastCycleCompletedAt,
	})
	if len(c.lastBatches) > lastBatchesKept {
		c.lastBatches = c.lastBatches[len(c.lastBatches)-lastBatchesKept:]
	}
}

// stateSnapshot is an immutable copy of cycleState safe to read without
// holding the lock.
type stateSnapshot struct {
	running              bool
	startedAt            time.Time
	total                int
	processed            int
	prCount              int
	checkCount           int
	stateChangeCount     int
	errorCount           int
	recentErrors         []string
	recentErrorsDetailed []timestampedError
	activeTasks          []string
	lastBatches          []BatchStat
	lastCycleCompletedAt time.Time
}

func (s stateSnapshot) elapsed() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s stateSnapshot) recentErrorsLastHour() int {
	cutoff := time.Now().Add(-time.Hour)
	n := 0
	for _, e := range s.recentErrorsDetailed {
		if e.at.After(cutoff) {
			n++
		}
	}
	return n
}

func (c *cycleState) snapshot() stateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.recentErrors
	if len(tail) > recentErrorsKept {
		tail = tail[len(tail)-recentErrorsKept:]
	}
	messages := make([]string, len(tail))
	for i, e := range tail {
		messages[i] = e.message
	}

	tasks := make([]string, 0, len(c.activeTasks))
	for t := range c.activeTasks {
		tasks = append(tasks, t)
	}

	batches := make([]BatchStat, len(c.lastBatches))
	copy(batches, c.lastBatches)

	return stateSnapshot{
		running:              c.running,
		startedAt:            c.startedAt,
		total:                c.total,
		processed:            c.processed,
		prCount:              c.prCount,
		checkCount:           c.checkCount,
		stateChangeCount:     c.stateChangeCount,
		errorCount:           c.errorCount,
		recentErrors:         messages,
		recentErrorsDetailed: c.recentErrors,
		activeTasks:          tasks,
		lastBatches:          batches,
		lastCycleCompletedAt: c.lastCycleCompletedAt,
	}
}

