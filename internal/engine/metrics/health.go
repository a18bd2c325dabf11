package metrics

import (
	"context"
	"sync"
	"time"
)

// ProbeStatus is the outcome of a single health probe.
type ProbeStatus string

// ProbeStatus values, ordered healthy < warning < degraded < critical (§7).
const (
	ProbeHealthy  ProbeStatus = "healthy"
	ProbeWarning  ProbeStatus = "warning"
	ProbeDegraded ProbeStatus = "degraded"
	ProbeCritical ProbeStatus = "critical"
)

func (s ProbeStatus) rank() int {
	switch s {
	case ProbeHealthy:
		return 0
	case ProbeWarning:
		return 1
	case ProbeDegraded:
		return 2
	case ProbeCritical:
		return 3
	default:
		return 0
	}
}

// Probe is one named health check: a DB ping, a remote rate_limit call, a
// cache round-trip, a rate-limiter snapshot, engine status, or resource
// utilisation (§4.11). Required probes count toward the overall status;
// non-required probes are reported but never degrade it.
type Probe struct {
	Name     string
	Timeout  time.Duration
	Required bool
	Check    func(ctx context.Context) error
}

// ProbeResult is one probe's outcome from the most recent check.
type ProbeResult struct {
	Name      string
	Status    ProbeStatus
	Error     string
	CheckedAt time.Time
}

// defaultCacheTTL is the 30s cached-result window named by §4.11.
const defaultCacheTTL = 30 * time.Second

// HealthChecker composes independent probes, each with its own timeout, and
// aggregates them into a single worst-of-required overall status. Results
// are cached for 30s so that frequent status polling does not hammer every
// downstream dependency.
type HealthChecker struct {
	probes  []Probe
	ttl     time.Duration
	mu      sync.Mutex
	cached  []ProbeResult
	cutOver time.Time
}

// NewHealthChecker builds a HealthChecker over the given probes.
func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, ttl: defaultCacheTTL}
}

// Check runs every probe concurrently (or returns the cached result if
// still within the 30s window) and returns the worst-of-required overall
// status alongside each probe's individual result.
func (h *HealthChecker) Check(ctx context.Context) (ProbeStatus, []ProbeResult) {
	h.mu.Lock()
	if h.cached != nil && time.Now().Before(h.cutOver) {
		results := h.cached
		h.mu.Unlock()
		return h.overall(results), results
	}
	h.mu.Unlock()

	results := make([]ProbeResult, len(h.probes))
	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			checkedAt := time.Now()
			if err := p.Check(probeCtx); err != nil {
				results[i] = ProbeResult{Name: p.Name, Status: ProbeCritical, Error: err.Error(), CheckedAt: checkedAt}
				return
			}
			results[i] = ProbeResult{Name: p.Name, Status: ProbeHealthy, CheckedAt: checkedAt}
		}(i, p)
	}
	wg.Wait()

	h.mu.Lock()
	h.cached = results
	h.cutOver = time.Now().Add(h.ttl)
	h.mu.Unlock()

	return h.overall(results), results
}

func (h *HealthChecker) overall(results []ProbeResult) ProbeStatus {
	worst := ProbeHealthy
	for i, r := range results {
		if !h.probes[i].Required {
			continue
		}
		if r.Status.rank() > worst.rank() {
			worst = r.Status
		}
	}
	return worst
}
