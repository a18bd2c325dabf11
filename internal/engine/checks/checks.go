// Package checks implements C4: batched, per-SHA check-run discovery.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

const (
	defaultConcurrency = 5
	cacheTTL           = 300 * time.Second
	maxPageCount       = 20
)

// Discoverer is C4.
type Discoverer struct {
	client      driven.GitHubClient
	cache       driven.Cache
	concurrency int
}

// New builds a Discoverer with the default per-SHA concurrency cap of 5.
func New(client driven.GitHubClient, cache driven.Cache) *Discoverer {
	return &Discoverer{client: client, cache: cache, concurrency: defaultConcurrency}
}

// WithConcurrency overrides the default fan-out cap.
func (d *Discoverer) WithConcurrency(n int) *Discoverer {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Attach groups the given PRs by head SHA, issues one enumeration per
// unique SHA (concurrently, bounded by d.concurrency), and mutates each
// PR's CheckRuns in place. Errors are appended to errs and do not stop
// other SHAs from being processed (§4.4).
func (d *Discoverer) Attach(ctx context.Context, owner, repo string, prs []model.DiscoveredPR, errs *[]*discoveryerr.Error) {
	shaToIndices := make(map[string][]int)
	for i, pr := range prs {
		if pr.HeadSHA == "" {
			continue
		}
		shaToIndices[pr.HeadSHA] = append(shaToIndices[pr.HeadSHA], i)
	}

	type outcome struct {
		sha  string
		runs []model.DiscoveredCheckRun
		err  *discoveryerr.Error
	}

	shas := make([]string, 0, len(shaToIndices))
	for sha := range shaToIndices {
		shas = append(shas, sha)
	}

	results := make(chan outcome, len(shas))
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for _, sha := range shas {
		wg.Add(1)
		go func(sha string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			runs, err := d.enumerateOne(ctx, owner, repo, sha)
			results <- outcome{sha: sha, runs: runs, err: err}
		}(sha)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	bySHA := make(map[string][]model.DiscoveredCheckRun, len(shas))
	var mu sync.Mutex
	for o := range results {
		mu.Lock()
		if o.err != nil {
			*errs = append(*errs, o.err)
		} else {
			bySHA[o.sha] = o.runs
		}
		mu.Unlock()
	}

	for sha, indices := range shaToIndices {
		runs := bySHA[sha] // nil (empty) for a SHA whose enumeration failed
		for _, i := range indices {
			prs[i].CheckRuns = runs
		}
	}
}

func (d *Discoverer) enumerateOne(ctx context.Context, owner, repo, sha string) ([]model.DiscoveredCheckRun, *discoveryerr.Error) {
	cacheKey := fmt.Sprintf("checks:%s:%s:%s", owner, repo, sha)
	if cached, ok := d.cache.Get(ctx, cacheKey); ok {
		var runs []model.DiscoveredCheckRun
		if err := json.Unmarshal(cached, &runs); err == nil {
			return runs, nil
		}
	}

	var all []model.DiscoveredCheckRun
	for page := 1; page <= maxPageCount; page++ {
		result, err := d.client.ListCheckRuns(ctx, driven.ListCheckRunsOptions{
			Owner: owner, Repo: repo, Ref: sha, Page: page, PerPage: 100,
		})
		if err != nil {
			return nil, discoveryerr.Wrap(discoveryerr.TypeGitHubAPIError,
				fmt.Sprintf("failed to enumerate check runs for %s", sha), err,
				map[string]any{"owner": owner, "repo": repo, "sha": sha})
		}
		all = append(all, result.Runs...)
		if len(result.Runs) == 0 || !result.HasMore {
			break
		}
	}

	if body, err := json.Marshal(all); err == nil {
		d.cache.Set(ctx, cacheKey, body, cacheTTL)
	}
	return all, nil
}
