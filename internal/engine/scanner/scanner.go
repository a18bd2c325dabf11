// Package scanner implements C3: paginated, conditionally-cached
// enumeration of a repository's pull requests.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

const (
	defaultPageSize = 100
	maxPageCount    = 50
	cacheTTL        = 300 * time.Second
)

// Scanner is C3.
type Scanner struct {
	client driven.GitHubClient
	cache  driven.Cache
}

// New builds a Scanner over a GitHub client and the shared discovery cache.
func New(client driven.GitHubClient, cache driven.Cache) *Scanner {
	return &Scanner{client: client, cache: cache}
}

// Scan produces a DiscoveryResult for one repository (§4.3). since and
// maxPRs are both optional: a zero since means "no filter"; maxPRs <= 0
// means "no cap".
func (s *Scanner) Scan(ctx context.Context, repo model.Repository, since time.Time, maxPRs int) model.DiscoveryResult {
	result := model.DiscoveryResult{
		RepositoryID:  repo.ID,
		RepositoryURL: repo.URL,
		StartedAt:     time.Now(),
	}

	owner, name, err := repo.OwnerRepo()
	if err != nil {
		result.Errors = append(result.Errors, discoveryerr.New(
			discoveryerr.TypeInvalidRepositoryURL, err.Error(),
			map[string]any{"url": repo.URL}))
		result.FinishedAt = time.Now()
		return result
	}

	cacheKey := fmt.Sprintf("prs:%s:%s:all", owner, name)
	cachedBody, priorETag, hasCache := s.cache.GetWithETag(ctx, cacheKey)

	discovered, etag, notModified, scanErr := s.enumerate(ctx, owner, name, since, maxPRs, priorETag, &result)
	if scanErr != nil {
		result.Errors = append(result.Errors, scanErr)
		result.FinishedAt = time.Now()
		return result
	}

	if notModified && hasCache {
		result.CacheHits++
		var cached []model.DiscoveredPR
		if jsonErr := json.Unmarshal(cachedBody, &cached); jsonErr == nil {
			result.DiscoveredPRs = cached
		}
		result.FinishedAt = time.Now()
		return result
	}
	result.CacheMisses++

	result.DiscoveredPRs = discovered

	if body, jsonErr := json.Marshal(discovered); jsonErr == nil {
		if etag == "" {
			etag = fmt.Sprintf("scan-%d", time.Now().Unix())
		}
		s.cache.SetWithETag(ctx, cacheKey, body, etag, cacheTTL)
	}

	result.FinishedAt = time.Now()
	return result
}

// enumerate drives the paginator and returns its fully-accumulated output.
func (s *Scanner) enumerate(ctx context.Context, owner, name string, since time.Time, maxPRs int, priorETag string, result *model.DiscoveryResult) ([]model.DiscoveredPR, string, bool, *discoveryerr.Error) {
	var all []model.DiscoveredPR
	var lastETag string

	for page := 1; page <= maxPageCount; page++ {
		opts := driven.ListPullRequestsOptions{
			Owner:   owner,
			Repo:    name,
			Since:   since,
			Page:    page,
			PerPage: defaultPageSize,
		}
		if page == 1 && priorETag != "" {
			opts.IfNoneMatch = priorETag
		}

		pageResult, err := s.client.ListPullRequests(ctx, opts)
		result.APICallsUsed++
		if err != nil {
			return all, lastETag, false, classifyRemoteError(err, owner, name)
		}
		if pageResult.NotModified {
			return nil, priorETag, true, nil
		}
		if pageResult.ETag != "" {
			lastETag = pageResult.ETag
		}

		for _, pr := range pageResult.PRs {
			if err := validateDiscoveredPR(pr); err != nil {
				result.Errors = append(result.Errors, discoveryerr.Wrap(
					discoveryerr.TypePRConversionError, "failed to project pull request payload", err,
					map[string]any{"owner": owner, "repo": name, "number": pr.Number}))
				continue
			}
			all = append(all, pr)
			if maxPRs > 0 && len(all) >= maxPRs {
				return all, lastETag, false, nil
			}
		}

		if len(pageResult.PRs) == 0 || !pageResult.HasMore {
			break
		}
	}

	return all, lastETag, false, nil
}

// validateDiscoveredPR performs the minimal structural check that
// justifies calling a payload "converted" — every PR must carry a number
// and a recognised state.
func validateDiscoveredPR(pr model.DiscoveredPR) error {
	if pr.Number <= 0 {
		return fmt.Errorf("pull request payload missing number")
	}
	switch pr.State {
	case model.PRStateOpened, model.PRStateClosed, model.PRStateMerged:
	default:
		return fmt.Errorf("pull request #%d has unrecognised state %q", pr.Number, pr.State)
	}
	return nil
}

// classifyRemoteError maps a remote failure into the §4.3 taxonomy.
func classifyRemoteError(err error, owner, name string) *discoveryerr.Error {
	ctx := map[string]any{"owner": owner, "repo": name}

	if status, ok := statusCode(err); ok {
		switch {
		case status == http.StatusNotFound:
			return discoveryerr.Wrap(discoveryerr.TypeRepositoryNotFound, "repository not found", err, ctx)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return discoveryerr.Wrap(discoveryerr.TypeAuthenticationError, "authentication failed", err, ctx)
		case status == http.StatusTooManyRequests:
			ctx["status_code"] = status
			return discoveryerr.Wrap(discoveryerr.TypeRateLimitExceeded, "remote rate limit exceeded", err, ctx)
		default:
			ctx["status_code"] = status
			return discoveryerr.Wrap(discoveryerr.TypeGitHubAPIError, "remote api call failed", err, ctx)
		}
	}

	slog.Warn("unclassified scanner error", "owner", owner, "repo", name, "error", err)
	return discoveryerr.Wrap(discoveryerr.TypeUnexpected, "unexpected scanner failure", err, ctx)
}

// statusCode extracts the HTTP status from a go-github error response.
func statusCode(err error) (int, bool) {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode, true
	}
	return 0, false
}
