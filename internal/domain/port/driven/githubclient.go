// Package driven declares the capability interfaces (strategy ports, §9)
// the engine consumes its collaborators through. Implementations are
// injected at construction; a test build supplies in-memory fakes.
package driven

import (
	"context"
	"time"

	"github.com/prwatch/pr-monitor/internal/domain/model"
)

// PRPage is one page of a paginated pull-request listing, plus the
// conditional-request metadata needed to cache it.
type PRPage struct {
	PRs        []model.DiscoveredPR
	ETag       string
	NotModified bool
	HasMore    bool
}

// CheckRunPage is one page of a paginated check-run listing for a single ref.
type CheckRunPage struct {
	Runs    []model.DiscoveredCheckRun
	HasMore bool
}

// ListPullRequestsOptions parameterises a single enumeration call (§4.3/§6).
type ListPullRequestsOptions struct {
	Owner    string
	Repo     string
	Since    time.Time // zero means "no since filter"
	Page     int
	PerPage  int
	IfNoneMatch string
}

// ListCheckRunsOptions parameterises a single check-run enumeration call.
type ListCheckRunsOptions struct {
	Owner   string
	Repo    string
	Ref     string
	Page    int
	PerPage int
}

// RemoteRateStatus mirrors the GET /rate_limit response shape for one resource.
type RemoteRateStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// GitHubClient is the driven port for remote repository enumeration (§6).
// The core never writes through this port.
type GitHubClient interface {
	ListPullRequests(ctx context.Context, opts ListPullRequestsOptions) (PRPage, error)
	ListCheckRuns(ctx context.Context, opts ListCheckRunsOptions) (CheckRunPage, error)
	RateLimitStatus(ctx context.Context, resource string) (RemoteRateStatus, error)
}
