package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwatch/pr-monitor/internal/engine/metrics"
)

func TestCollector_RecordCycle_AccumulatesAndSmooths(t *testing.T) {
	c := metrics.New()

	c.RecordCycle(metrics.CycleSample{
		RepositoriesProcessed: 2, PRsProcessed: 5, ChecksProcessed: 10,
		CacheHits: 8, CacheMisses: 2, Duration: 2 * time.Second,
	})
	firstAvg := c.AverageCycleDuration()
	assert.Equal(t, 2*time.Second, firstAvg)
	assert.InDelta(t, 0.8, c.CacheHitRate(), 0.001)

	c.RecordCycle(metrics.CycleSample{
		RepositoriesProcessed: 3, PRsProcessed: 1, ChecksProcessed: 1,
		CacheHits: 0, CacheMisses: 10, Duration: 4 * time.Second,
	})
	// EWMA with weight 0.7 on the new sample: 0.7*4 + 0.3*2 = 3.4s.
	assert.InDelta(t, 3.4*float64(time.Second), float64(c.AverageCycleDuration()), float64(time.Millisecond))
	assert.InDelta(t, 0.24, c.CacheHitRate(), 0.001)

	summary := c.Summary(24)
	require.Equal(t, 2, summary.Cycles)
	assert.Equal(t, 5, summary.TotalRepositories)
	assert.Equal(t, 6, summary.TotalPRs)
	assert.Equal(t, 2*time.Second, summary.MinCycleDuration)
	assert.Equal(t, 4*time.Second, summary.MaxCycleDuration)
}

func TestCollector_Summary_ExcludesSamplesOutsideWindow(t *testing.T) {
	c := metrics.New()
	c.RecordCycle(metrics.CycleSample{RepositoriesProcessed: 1, Duration: time.Second, CompletedAt: time.Now().Add(-48 * time.Hour)})

	summary := c.Summary(1)
	assert.Equal(t, 0, summary.Cycles)
}

func TestCollector_Registry_ExposesCounters(t *testing.T) {
	c := metrics.New()
	c.RecordCycle(metrics.CycleSample{RepositoriesProcessed: 1, Duration: time.Second})

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHealthChecker_WorstOfRequired(t *testing.T) {
	hc := metrics.NewHealthChecker(
		metrics.Probe{Name: "db", Timeout: time.Second, Required: true, Check: func(context.Context) error { return nil }},
		metrics.Probe{Name: "remote", Timeout: time.Second, Required: true, Check: func(context.Context) error { return errors.New("boom") }},
		metrics.Probe{Name: "optional", Timeout: time.Second, Required: false, Check: func(context.Context) error { return errors.New("ignored") }},
	)

	overall, results := hc.Check(context.Background())
	assert.Equal(t, metrics.ProbeCritical, overall)
	require.Len(t, results, 3)

	var remote, optional metrics.ProbeResult
	for _, r := range results {
		switch r.Name {
		case "remote":
			remote = r
		case "optional":
			optional = r
		}
	}
	assert.Equal(t, metrics.ProbeCritical, remote.Status)
	assert.Equal(t, metrics.ProbeCritical, optional.Status) // reported, even though non-required
}

func TestHealthChecker_CachesResultFor30Seconds(t *testing.T) {
	calls := 0
	hc := metrics.NewHealthChecker(metrics.Probe{
		Name: "db", Timeout: time.Second, Required: true,
		Check: func(context.Context) error { calls++; return nil },
	})

	hc.Check(context.Background())
	hc.Check(context.Background())
	assert.Equal(t, 1, calls)
}

func TestHealthChecker_AllHealthyIsHealthy(t *testing.T) {
	hc := metrics.NewHealthChecker(metrics.Probe{
		Name: "db", Timeout: time.Second, Required: true,
		Check: func(context.Context) error { return nil },
	})
	overall, _ := hc.Check(context.Background())
	assert.Equal(t, metrics.ProbeHealthy, overall)
}
