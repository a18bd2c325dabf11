package checks_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheadapter "github.com/prwatch/pr-monitor/internal/adapter/driven/cache"
	"github.com/prwatch/pr-monitor/internal/discoveryerr"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
	"github.com/prwatch/pr-monitor/internal/engine/checks"
)

type fakeClient struct {
	mu       sync.Mutex
	byRef    map[string][]model.DiscoveredCheckRun
	failRefs map[string]bool
	calls    atomic.Int64
}

func (f *fakeClient) ListPullRequests(context.Context, driven.ListPullRequestsOptions) (driven.PRPage, error) {
	return driven.PRPage{}, nil
}

func (f *fakeClient) ListCheckRuns(_ context.Context, opts driven.ListCheckRunsOptions) (driven.CheckRunPage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefs[opts.Ref] {
		return driven.CheckRunPage{}, fmt.Errorf("boom for %s", opts.Ref)
	}
	return driven.CheckRunPage{Runs: f.byRef[opts.Ref]}, nil
}

func (f *fakeClient) RateLimitStatus(context.Context, string) (driven.RemoteRateStatus, error) {
	return driven.RemoteRateStatus{}, nil
}

func TestAttach_GroupsBySHAAndReusesResult(t *testing.T) {
	client := &fakeClient{byRef: map[string][]model.DiscoveredCheckRun{
		"sha-1": {{Name: "build", Status: model.CheckStatusCompleted, Conclusion: model.ConclusionSuccess}},
	}}
	d := checks.New(client, cacheadapter.New())

	prs := []model.DiscoveredPR{
		{Number: 1, HeadSHA: "sha-1"},
		{Number: 2, HeadSHA: "sha-1"},
	}
	var errs []*discoveryerr.Error
	d.Attach(context.Background(), "acme", "widgets", prs, &errs)

	assert.Empty(t, errs)
	require.Len(t, prs[0].CheckRuns, 1)
	require.Len(t, prs[1].CheckRuns, 1)
	assert.Equal(t, int64(1), client.calls.Load())
}

func TestAttach_OneFailureDoesNotStopOthers(t *testing.T) {
	client := &fakeClient{
		byRef:    map[string][]model.DiscoveredCheckRun{"sha-good": {{Name: "test"}}},
		failRefs: map[string]bool{"sha-bad": true},
	}
	d := checks.New(client, cacheadapter.New())

	prs := []model.DiscoveredPR{
		{Number: 1, HeadSHA: "sha-good"},
		{Number: 2, HeadSHA: "sha-bad"},
	}
	var errs []*discoveryerr.Error
	d.Attach(context.Background(), "acme", "widgets", prs, &errs)

	require.Len(t, errs, 1)
	assert.Len(t, prs[0].CheckRuns, 1)
	assert.Empty(t, prs[1].CheckRuns)
}

func TestAttach_CachesPerSHA(t *testing.T) {
	client := &fakeClient{byRef: map[string][]model.DiscoveredCheckRun{
		"sha-1": {{Name: "build"}},
	}}
	cache := cacheadapter.New()
	d := checks.New(client, cache)

	first := []model.DiscoveredPR{{Number: 1, HeadSHA: "sha-1"}}
	var errs []*discoveryerr.Error
	d.Attach(context.Background(), "acme", "widgets", first, &errs)
	require.Empty(t, errs)

	second := []model.DiscoveredPR{{Number: 2, HeadSHA: "sha-1"}}
	d.Attach(context.Background(), "acme", "widgets", second, &errs)
	require.Empty(t, errs)

	assert.Equal(t, int64(1), client.calls.Load())
	assert.Len(t, second[0].CheckRuns, 1)
}

func TestAttach_SkipsPRsWithoutHeadSHA(t *testing.T) {
	client := &fakeClient{}
	d := checks.New(client, cacheadapter.New())

	prs := []model.DiscoveredPR{{Number: 1, HeadSHA: ""}}
	var errs []*discoveryerr.Error
	d.Attach(context.Background(), "acme", "widgets", prs, &errs)

	assert.Empty(t, errs)
	assert.Equal(t, int64(0), client.calls.Load())
}
