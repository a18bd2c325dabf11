// Package scheduler implements C10: the long-lived supervisor that finds
// repositories due for a scan and hands them to the orchestrator every
// configured interval, shutting every owned resource down cleanly on
// cancellation.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// defaultInterval is §6's discovery.interval_seconds default.
const defaultInterval = 300 * time.Second

// CycleRunner is the narrow capability the scheduler needs from C9.
type CycleRunner interface {
	RunCycle(ctx context.Context, repositoryIDs []uuid.UUID) []model.DiscoveryResult
}

// RateLimiterStopper is the narrow capability the scheduler needs from C1 at
// shutdown: halt every resource's dispatch loop.
type RateLimiterStopper interface {
	Stop()
}

// Closer is implemented by any owned resource (cache, database, remote
// client) the scheduler disposes of on shutdown.
type Closer interface {
	Close() error
}

// Scheduler is C10: it queries the repository store for due repositories on
// a gocron-driven interval, invokes the orchestrator, and waits for either
// the next tick or a cancellation signal.
type Scheduler struct {
	repos    driven.RepoStore
	runner   CycleRunner
	interval time.Duration

	limiter RateLimiterStopper
	closers []Closer

	scheduler gocron.Scheduler

	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	lastSize int
}

// New constructs a Scheduler. limiter and closers may be nil/empty; they are
// only consulted during Shutdown.
func New(repos driven.RepoStore, runner CycleRunner, interval time.Duration, limiter RateLimiterStopper, closers ...Closer) (*Scheduler, error) {
	if interval <= 0 {
		interval = defaultInterval
	}

	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		repos:     repos,
		runner:    runner,
		interval:  interval,
		limiter:   limiter,
		closers:   closers,
		scheduler: gs,
	}, nil
}

// Start registers the recurring discovery job and blocks until ctx is
// canceled, at which point it performs an orderly Shutdown before returning.
// An initial cycle runs immediately, matching the teacher's "poll once, then
// tick" startup behavior.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runDueCycle(ctx)

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.runDueCycle(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	s.scheduler.Start()
	slog.Info("scheduler started", "interval", s.interval)

	<-ctx.Done()
	slog.Info("scheduler received shutdown signal")
	return s.Shutdown(context.Background())
}

// runDueCycle implements one iteration of §4.10: list repositories whose
// last_polled_at + polling_interval has elapsed, and hand them to the
// orchestrator. A store failure is logged and the tick is skipped; it is not
// fatal to the supervisor.
func (s *Scheduler) runDueCycle(ctx context.Context) {
	due, err := s.repos.ListDue(ctx, time.Now())
	if err != nil {
		slog.Error("scheduler: failed to list due repositories", "error", err)
		return
	}
	if len(due) == 0 {
		slog.Debug("scheduler: no repositories due")
		return
	}

	ids := make([]uuid.UUID, len(due))
	for i, r := range due {
		ids[i] = r.ID
	}

	slog.Info("scheduler: running cycle", "repository_count", len(ids))
	results := s.runner.RunCycle(ctx, ids)

	s.mu.Lock()
	s.running = true
	s.lastRun = time.Now()
	s.lastSize = len(results)
	s.mu.Unlock()

	failed := 0
	for _, r := range results {
		if !r.Successful() {
			failed++
		}
	}
	slog.Info("scheduler: cycle complete", "repositories", len(results), "failed", failed)
}

// Shutdown stops the gocron scheduler, halts the rate limiter's dispatch
// loops, and disposes every registered Closer (cache, database, remote
// client), in that order (§4.10).
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Error("scheduler: gocron shutdown failed", "error", err)
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			slog.Error("scheduler: failed to close owned resource", "error", err)
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// LastCycle reports the size and completion time of the most recently
// finished cycle, for observability.
func (s *Scheduler) LastCycle() (at time.Time, repositoryCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastSize
}

// Running reports whether at least one cycle has run and Shutdown has not
// yet been called.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
