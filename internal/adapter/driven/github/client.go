// Package github implements the GitHubClient port using the go-github
// library, layered with httpcache's ETag-aware transport and
// go-github-ratelimit's reactive secondary-limit backoff.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

var _ driven.GitHubClient = (*Client)(nil)

// Client implements driven.GitHubClient against the real GitHub REST API.
type Client struct {
	gh *gh.Client
}

// NewClient builds a Client with the following transport stack, outermost
// first: go-github-ratelimit (sleeps out secondary rate-limit responses),
// httpcache (ETag-conditional caching), then the base transport.
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)
	return &Client{gh: client}
}

// NewClientWithHTTPClient builds a Client against a custom http.Client and
// base URL, for use against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)
	u, err := client.BaseURL.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", baseURL, err)
	}
	client.BaseURL = u
	return &Client{gh: client}, nil
}

// Close idles out the client's underlying transport connections on shutdown.
func (c *Client) Close() error {
	if transport, ok := c.gh.Client().Transport.(interface{ CloseIdleConnections() }); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// ListPullRequests fetches a single page of the repository's pull-request
// collection (§4.3/§6): state=all, sort=updated, direction=desc, with an
// optional since filter and If-None-Match conditional header.
func (c *Client) ListPullRequests(ctx context.Context, opts driven.ListPullRequestsOptions) (driven.PRPage, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	listOpts := &gh.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			Page:    opts.Page,
			PerPage: perPage,
		},
	}

	req, err := c.gh.NewRequest(http.MethodGet, fmt.Sprintf("repos/%s/%s/pulls", opts.Owner, opts.Repo), nil)
	if err != nil {
		return driven.PRPage{}, fmt.Errorf("building pull request listing: %w", err)
	}
	applyListQuery(req, listOpts)
	if !opts.Since.IsZero() {
		q := req.URL.Query()
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
		req.URL.RawQuery = q.Encode()
	}
	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", opts.IfNoneMatch)
	}

	var prs []*gh.PullRequest
	resp, err := c.gh.Do(ctx, req, &prs)
	if resp != nil && resp.StatusCode == http.StatusNotModified {
		return driven.PRPage{NotModified: true}, nil
	}
	if err != nil {
		return driven.PRPage{}, classifyAPIError(err, resp)
	}
	logRateLimit(resp, fmt.Sprintf("%s/%s/pulls", opts.Owner, opts.Repo), opts.Page, len(prs))

	discovered := make([]model.DiscoveredPR, 0, len(prs))
	for _, pr := range prs {
		discovered = append(discovered, mapPullRequest(pr))
	}

	return driven.PRPage{
		PRs:     discovered,
		ETag:    resp.Header.Get("ETag"),
		HasMore: resp.NextPage != 0,
	}, nil
}

// ListCheckRuns fetches a single page of check runs for a ref (§4.4).
func (c *Client) ListCheckRuns(ctx context.Context, opts driven.ListCheckRunsOptions) (driven.CheckRunPage, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	listOpts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{Page: opts.Page, PerPage: perPage},
	}

	result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, opts.Owner, opts.Repo, opts.Ref, listOpts)
	if err != nil {
		return driven.CheckRunPage{}, classifyAPIError(err, resp)
	}
	logRateLimit(resp, fmt.Sprintf("%s/%s/commits/%s/check-runs", opts.Owner, opts.Repo, opts.Ref), opts.Page, len(result.CheckRuns))

	runs := make([]model.DiscoveredCheckRun, 0, len(result.CheckRuns))
	for _, cr := range result.CheckRuns {
		runs = append(runs, mapCheckRun(cr))
	}

	return driven.CheckRunPage{
		Runs:    runs,
		HasMore: resp.NextPage != 0,
	}, nil
}

// RateLimitStatus reports the remote's authoritative view of one resource's
// remaining quota, used by C1's UpdateLimits reconciliation.
func (c *Client) RateLimitStatus(ctx context.Context, resource string) (driven.RemoteRateStatus, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return driven.RemoteRateStatus{}, fmt.Errorf("fetching rate limit status: %w", err)
	}

	var rate *gh.Rate
	switch resource {
	case "search":
		rate = limits.GetSearch()
	case "graphql":
		rate = limits.GetGraphQL()
	default:
		rate = limits.GetCore()
	}
	if rate == nil {
		return driven.RemoteRateStatus{}, fmt.Errorf("no rate limit data for resource %q", resource)
	}

	return driven.RemoteRateStatus{
		Limit:     rate.Limit,
		Remaining: rate.Remaining,
		Reset:     rate.Reset.Time,
	}, nil
}

// applyListQuery merges go-github's addOptions encoding onto an already
// constructed request, since NewRequest + Checks-style helpers diverge on
// how query parameters are attached.
func applyListQuery(req *http.Request, opts *gh.PullRequestListOptions) {
	q := req.URL.Query()
	q.Set("state", opts.State)
	q.Set("sort", opts.Sort)
	q.Set("direction", opts.Direction)
	if opts.Page > 0 {
		q.Set("page", fmt.Sprintf("%d", opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", fmt.Sprintf("%d", opts.PerPage))
	}
	req.URL.RawQuery = q.Encode()
}

// logRateLimit logs the remaining quota after each remote call, matching
// the adapter's ambient logging convention.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}
	slog.Debug("github api call", "endpoint", endpoint, "page", page, "count", count,
		"rate_remaining", resp.Rate.Remaining, "rate_limit", resp.Rate.Limit)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low", "remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second))
	}
}

// mapPullRequest converts a go-github PullRequest into a DiscoveredPR,
// using GetXxx() helpers throughout to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest) model.DiscoveredPR {
	state := model.PRStateOpened
	switch {
	case pr.GetMerged():
		state = model.PRStateMerged
	case pr.GetState() == "closed":
		state = model.PRStateClosed
	}

	metadata := map[string]string{
		"additions":     fmt.Sprintf("%d", pr.GetAdditions()),
		"deletions":     fmt.Sprintf("%d", pr.GetDeletions()),
		"changed_files": fmt.Sprintf("%d", pr.GetChangedFiles()),
	}

	return model.DiscoveredPR{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Author:     pr.GetUser().GetLogin(),
		State:      state,
		Draft:      pr.GetDraft(),
		BaseBranch: pr.GetBase().GetRef(),
		BaseSHA:    pr.GetBase().GetSHA(),
		HeadBranch: pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		URL:        pr.GetHTMLURL(),
		Metadata:   metadata,
		CreatedAt:  pr.GetCreatedAt().Time,
		UpdatedAt:  pr.GetUpdatedAt().Time,
	}
}

// mapCheckRun converts a go-github CheckRun into a DiscoveredCheckRun.
func mapCheckRun(cr *gh.CheckRun) model.DiscoveredCheckRun {
	var startedAt, completedAt time.Time
	if cr.StartedAt != nil {
		startedAt = cr.GetStartedAt().Time
	}
	if cr.CompletedAt != nil {
		completedAt = cr.GetCompletedAt().Time
	}

	status := model.CheckStatus(cr.GetStatus())
	var conclusion model.CheckConclusion
	if status == model.CheckStatusCompleted {
		conclusion = model.CheckConclusion(cr.GetConclusion())
	}

	return model.DiscoveredCheckRun{
		ExternalID:  strconv.FormatInt(cr.GetID(), 10),
		Name:        cr.GetName(),
		Status:      status,
		Conclusion:  conclusion,
		DetailsURL:  cr.GetDetailsURL(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

// classifyAPIError wraps a go-github error with its remote status code so
// callers can pattern-match on it without reaching into the transport
// layer (§4.3's error taxonomy classifies on status code).
func classifyAPIError(err error, resp *gh.Response) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("github api call failed with status %d: %w", resp.StatusCode, err)
}
