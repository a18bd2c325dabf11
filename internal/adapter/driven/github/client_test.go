package github_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ghAdapter "github.com/prwatch/pr-monitor/internal/adapter/driven/github"
	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*ghAdapter.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.URL+"/")
	require.NoError(t, err)

	return client, server
}

type prJSON struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	State   string   `json:"state"`
	Merged  bool     `json:"merged"`
	Draft   bool     `json:"draft"`
	HTMLURL string   `json:"html_url"`
	User    userJSON `json:"user"`
	Head    refJSON  `json:"head"`
	Base    refJSON  `json:"base"`
	Created string   `json:"created_at"`
	Updated string   `json:"updated_at"`
}

type userJSON struct {
	Login string `json:"login"`
}

type refJSON struct {
	Ref string `json:"ref"`
	SHA string `json:"sha,omitempty"`
}

func TestListPullRequests_SinglePage(t *testing.T) {
	prs := []prJSON{
		{
			Number:  42,
			Title:   "Add feature X",
			State:   "open",
			HTMLURL: "https://github.com/owner/repo/pull/42",
			User:    userJSON{Login: "alice"},
			Head:    refJSON{Ref: "feature-x", SHA: "abc123"},
			Base:    refJSON{Ref: "main", SHA: "def456"},
			Created: "2026-01-01T00:00:00Z",
			Updated: "2026-01-02T12:00:00Z",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))
		w.Header().Set("ETag", `"etag-1"`)
		_ = json.NewEncoder(w).Encode(prs)
	})

	client, _ := newTestClient(t, mux)

	page, err := client.ListPullRequests(context.Background(), driven.ListPullRequestsOptions{
		Owner: "owner", Repo: "repo", Page: 1, PerPage: 100,
	})
	require.NoError(t, err)
	require.Len(t, page.PRs, 1)
	assert.Equal(t, 42, page.PRs[0].Number)
	assert.Equal(t, model.PRStateOpened, page.PRs[0].State)
	assert.Equal(t, "abc123", page.PRs[0].HeadSHA)
	assert.Equal(t, `"etag-1"`, page.ETag)
	assert.False(t, page.NotModified)
}

func TestListPullRequests_NotModified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"cached-etag"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	})

	client, _ := newTestClient(t, mux)

	page, err := client.ListPullRequests(context.Background(), driven.ListPullRequestsOptions{
		Owner: "owner", Repo: "repo", Page: 1, IfNoneMatch: `"cached-etag"`,
	})
	require.NoError(t, err)
	assert.True(t, page.NotModified)
	assert.Empty(t, page.PRs)
}

func TestListPullRequests_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/missing/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
	})

	client, _ := newTestClient(t, mux)

	_, err := client.ListPullRequests(context.Background(), driven.ListPullRequestsOptions{
		Owner: "owner", Repo: "missing", Page: 1,
	})
	require.Error(t, err)
}

func TestListPullRequests_MergedState(t *testing.T) {
	now := "2026-01-01T00:00:00Z"
	prs := []prJSON{{Number: 7, State: "closed", Merged: true, Created: now, Updated: now}}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(prs)
	})

	client, _ := newTestClient(t, mux)
	page, err := client.ListPullRequests(context.Background(), driven.ListPullRequestsOptions{
		Owner: "owner", Repo: "repo", Page: 1,
	})
	require.NoError(t, err)
	require.Len(t, page.PRs, 1)
	assert.Equal(t, model.PRStateMerged, page.PRs[0].State)
}

type checkRunJSON struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
}

func TestListCheckRuns(t *testing.T) {
	resp := struct {
		CheckRuns []checkRunJSON `json:"check_runs"`
	}{
		CheckRuns: []checkRunJSON{
			{ID: 1, Name: "build", Status: "completed", Conclusion: "success"},
			{ID: 2, Name: "test", Status: "in_progress"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/repo/commits/abc123/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resp)
	})

	client, _ := newTestClient(t, mux)
	page, err := client.ListCheckRuns(context.Background(), driven.ListCheckRunsOptions{
		Owner: "owner", Repo: "repo", Ref: "abc123",
	})
	require.NoError(t, err)
	require.Len(t, page.Runs, 2)
	assert.Equal(t, "build", page.Runs[0].Name)
	assert.Equal(t, model.ConclusionSuccess, page.Runs[0].Conclusion)
	assert.Equal(t, model.CheckStatusInProgress, page.Runs[1].Status)
	assert.Empty(t, page.Runs[1].Conclusion)
}

func TestRateLimitStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resources": map[string]any{
				"core":   map[string]any{"limit": 5000, "remaining": 4999, "reset": 1999999999},
				"search": map[string]any{"limit": 30, "remaining": 30, "reset": 1999999999},
			},
		})
	})

	client, _ := newTestClient(t, mux)
	status, err := client.RateLimitStatus(context.Background(), "core")
	require.NoError(t, err)
	assert.Equal(t, 5000, status.Limit)
	assert.Equal(t, 4999, status.Remaining)
}
