// Package metrics implements C11: a thread-safe collector of per-cycle
// counters and rolling gauges, exposed both as a Prometheus registry and as
// a windowed summary for the orchestrator's health surface.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultRetention   = 24 * time.Hour
	defaultAggregation = 5 * time.Minute
	// emaWeight is the exponential smoothing weight applied to the current
	// cycle's sample (§4.9 Step 6: "weight 0.7 on the current cycle").
	emaWeight = 0.7
)

// CycleSample is one cycle's worth of raw counters, handed to RecordCycle
// by the orchestrator at the end of run_cycle.
type CycleSample struct {
	RepositoriesProcessed int
	PRsProcessed          int
	ChecksProcessed       int
	StateChanges          int
	Errors                int
	CacheHits             int
	CacheMisses           int
	Duration              time.Duration
	CompletedAt           time.Time
}

// Summary is the windowed aggregate returned by Summary(hours).
type Summary struct {
	Cycles            int
	TotalRepositories int
	TotalPRs          int
	TotalChecks       int
	TotalStateChanges int
	TotalErrors       int
	AvgCycleDuration  time.Duration
	MinCycleDuration  time.Duration
	MaxCycleDuration  time.Duration
	AvgCacheHitRate   float64
}

// Collector accumulates cycle samples in a retention-bounded ring and
// exposes both the rolling EWMA gauges C9's status surface needs and a
// Prometheus registry for a /metrics endpoint.
type Collector struct {
	mu         sync.Mutex
	retention  time.Duration
	aggregate  time.Duration
	samples    []CycleSample
	avgCycleS  float64
	cacheRate  float64
	haveCycleS bool
	haveRate   bool

	registry      *prometheus.Registry
	cyclesTotal   prometheus.Counter
	reposTotal    prometheus.Counter
	prsTotal      prometheus.Counter
	checksTotal   prometheus.Counter
	changesTotal  prometheus.Counter
	errorsTotal   prometheus.Counter
	cycleDuration prometheus.Histogram
	cacheHitGauge prometheus.Gauge
}

// New builds a Collector with its own Prometheus registry, the default 24h
// retention window and 5-minute aggregation window (§4.11).
func New() *Collector {
	c := &Collector{
		retention: defaultRetention,
		aggregate: defaultAggregation,
		registry:  prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "cycles_total", Help: "Discovery cycles completed.",
		}),
		reposTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "repositories_processed_total", Help: "Repositories processed across all cycles.",
		}),
		prsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "pull_requests_processed_total", Help: "Pull requests processed across all cycles.",
		}),
		checksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "check_runs_processed_total", Help: "Check runs processed across all cycles.",
		}),
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "state_changes_total", Help: "Significant state changes detected across all cycles.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prmonitor", Name: "errors_total", Help: "Errors recorded across all cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prmonitor", Name: "cycle_duration_seconds", Help: "Discovery cycle wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		cacheHitGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prmonitor", Name: "cache_hit_rate", Help: "Exponentially smoothed cache hit rate.",
		}),
	}

	c.registry.MustRegister(
		c.cyclesTotal, c.reposTotal, c.prsTotal, c.checksTotal,
		c.changesTotal, c.errorsTotal, c.cycleDuration, c.cacheHitGauge,
	)
	return c
}

// Registry exposes the underlying Prometheus registry for a /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCycle folds one cycle's sample into the rolling gauges and the
// retention-bounded sample ring (§4.9 Step 6, §4.11).
func (c *Collector) RecordCycle(s CycleSample) {
	if s.CompletedAt.IsZero() {
		s.CompletedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, s)
	c.pruneLocked()

	if !c.haveCycleS {
		c.avgCycleS = s.Duration.Seconds()
		c.haveCycleS = true
	} else {
		c.avgCycleS = emaWeight*s.Duration.Seconds() + (1-emaWeight)*c.avgCycleS
	}

	hitRate := 0.0
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		hitRate = float64(s.CacheHits) / float64(total)
	}
	if !c.haveRate {
		c.cacheRate = hitRate
		c.haveRate = true
	} else {
		c.cacheRate = emaWeight*hitRate + (1-emaWeight)*c.cacheRate
	}

	c.cyclesTotal.Inc()
	c.reposTotal.Add(float64(s.RepositoriesProcessed))
	c.prsTotal.Add(float64(s.PRsProcessed))
	c.checksTotal.Add(float64(s.ChecksProcessed))
	c.changesTotal.Add(float64(s.StateChanges))
	c.errorsTotal.Add(float64(s.Errors))
	c.cycleDuration.Observe(s.Duration.Seconds())
	c.cacheHitGauge.Set(c.cacheRate)
}

// pruneLocked drops samples older than the retention window. Caller must
// hold c.mu.
func (c *Collector) pruneLocked() {
	cutoff := time.Now().Add(-c.retention)
	i := 0
	for ; i < len(c.samples); i++ {
		if c.samples[i].CompletedAt.After(cutoff) {
			break
		}
	}
	c.samples = c.samples[i:]
}

// AverageCycleDuration returns the current EWMA cycle duration.
func (c *Collector) AverageCycleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.avgCycleS * float64(time.Second))
}

// CacheHitRate returns the current EWMA cache hit rate.
func (c *Collector) CacheHitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheRate
}

// Summary aggregates every retained sample within the last `hours` hours.
func (c *Collector) Summary(hours int) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	var sum Summary
	var totalDuration time.Duration

	for _, s := range c.samples {
		if s.CompletedAt.Before(cutoff) {
			continue
		}
		sum.Cycles++
		sum.TotalRepositories += s.RepositoriesProcessed
		sum.TotalPRs += s.PRsProcessed
		sum.TotalChecks += s.ChecksProcessed
		sum.TotalStateChanges += s.StateChanges
		sum.TotalErrors += s.Errors
		totalDuration += s.Duration
		if sum.MinCycleDuration == 0 || s.Duration < sum.MinCycleDuration {
			sum.MinCycleDuration = s.Duration
		}
		if s.Duration > sum.MaxCycleDuration {
			sum.MaxCycleDuration = s.Duration
		}
	}

	if sum.Cycles > 0 {
		sum.AvgCycleDuration = totalDuration / time.Duration(sum.Cycles)
	}
	sum.AvgCacheHitRate = c.cacheRate
	return sum
}
