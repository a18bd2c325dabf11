// Command pr-monitor runs the PR discovery engine: a scheduled, concurrent
// worker that scans watched repositories, detects pull-request and
// check-run state changes, and persists them transactionally.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	cacheadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/cache"
	eventsadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/events"
	ghadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/github"
	sqliteadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/sqlite"
	"github.com/prwatch/pr-monitor/internal/config"
	"github.com/prwatch/pr-monitor/internal/engine/checks"
	"github.com/prwatch/pr-monitor/internal/engine/events"
	"github.com/prwatch/pr-monitor/internal/engine/metrics"
	"github.com/prwatch/pr-monitor/internal/engine/orchestrator"
	"github.com/prwatch/pr-monitor/internal/engine/ratelimit"
	"github.com/prwatch/pr-monitor/internal/engine/scanner"
	"github.com/prwatch/pr-monitor/internal/engine/scheduler"
	"github.com/prwatch/pr-monitor/internal/engine/stateloader"
	"github.com/prwatch/pr-monitor/internal/engine/sync"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; accepted but not read, configuration comes from environment variables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	setLogLevel(*logLevel)

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func run(configPath string) error {
	// 1. Load configuration (fail fast on missing required env vars).
	if configPath != "" {
		slog.Info("config file flag set but not read; using environment variables", "path", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"max_concurrent_repositories", cfg.MaxConcurrentRepositories,
		"interval", cfg.Interval,
		"batch_size", cfg.BatchSize,
		"priority_scheduling", cfg.PriorityScheduling,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DatabaseURL)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire persistence adapters.
	repoStore := sqliteadapter.NewRepoRepo(db)
	prStore := sqliteadapter.NewPRRepo(db)
	checkStore := sqliteadapter.NewCheckRepo(db)
	historyStore := sqliteadapter.NewHistoryRepo(db)
	stateStore := sqliteadapter.NewStateSnapshotRepo(db)

	// 6. Wire the two-tier cache, enabling L2 Redis when configured.
	var cacheOpts []cacheadapter.Option
	if cfg.CacheURL != "" {
		redisOpts, err := redis.ParseURL(cfg.CacheURL)
		if err != nil {
			return fmt.Errorf("parsing cache url: %w", err)
		}
		cacheOpts = append(cacheOpts, cacheadapter.WithRedis(redis.NewClient(redisOpts)))
		slog.Info("cache configured with L2 redis tier")
	} else {
		slog.Info("cache running L1-only")
	}
	discoveryCache := cacheadapter.New(cacheOpts...)

	// 7. Wire the GitHub client and rate limiter.
	ghClient := ghadapter.NewClient(cfg.GitHubToken)
	limiter := ratelimit.NewManager(50, 10, 50)

	// 8. Wire the engine components (C3-C7).
	prScanner := scanner.New(ghClient, discoveryCache)
	checkDiscoverer := checks.New(ghClient, discoveryCache)
	loader := stateloader.New(stateStore, discoveryCache)
	synchronizer := sync.New(prStore, checkStore, historyStore).WithBatchSize(cfg.BatchSize)

	// 9. Wire event publication (C8) — structured logs are the default
	// downstream consumer until a real sink (webhook, queue) is configured.
	publisher := events.New(eventsadapter.NewLog())

	// 10. Wire metrics and health (C11).
	collector := metrics.New()

	// 11. Wire the orchestrator (C9) and scheduler (C10).
	orch := orchestrator.New(repoStore, prScanner, checkDiscoverer, loader, synchronizer, limiter,
		discoveryCache, publisher, collector, scanner.ResolvePriority).
		WithMaxConcurrentRepositories(cfg.MaxConcurrentRepositories).
		WithMaxPRsPerRepository(cfg.MaxPRsPerRepository)

	health := metrics.NewHealthChecker(
		metrics.Probe{Name: "database", Required: true, Check: func(ctx context.Context) error { return db.Writer.PingContext(ctx) }},
		metrics.Probe{Name: "cache", Required: false, Check: func(ctx context.Context) error {
			h := discoveryCache.HealthCheck(ctx)
			if !h.L1OK || (h.L2Present && !h.L2OK) {
				return fmt.Errorf("cache unhealthy: %+v", h)
			}
			return nil
		}},
	)

	sched, err := scheduler.New(repoStore, orch, cfg.Interval, limiter, db, discoveryCache, ghClient)
	if err != nil {
		return fmt.Errorf("constructing scheduler: %w", err)
	}

	// 12. Start the observability HTTP surface (/metrics, /healthz).
	metricsSrv := newMetricsServer(cfg.MetricsAddr, collector, health)
	go func() {
		slog.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	slog.Info("pr-monitor started")

	// 13. Run the scheduler; it blocks until ctx is canceled, then performs
	// its own orderly shutdown of the rate limiter, cache, and database.
	if err := sched.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newMetricsServer(addr string, collector *metrics.Collector, health *metrics.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, results := health.Check(r.Context())
		code := http.StatusOK
		if status != metrics.ProbeHealthy {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		fmt.Fprintf(w, "status=%s probes=%d\n", status, len(results))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
