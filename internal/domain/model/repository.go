package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is a watched source-control repository.
type Repository struct {
	ID              uuid.UUID
	URL             string
	Name            string
	Status          RepoStatus
	FailureCount    int
	ConfigOverride  map[string]string
	LastPolledAt    time.Time // zero value means never polled
	PollingInterval time.Duration
}

// OwnerRepo parses the repository URL into (owner, name), stripping a
// trailing ".git" suffix and any leading scheme/host.
func (r Repository) OwnerRepo() (owner, name string, err error) {
	return ParseRepoURL(r.URL)
}

// ParseRepoURL extracts (owner, name) from a GitHub-style repository URL,
// e.g. "https://github.com/owner/name" or "https://github.com/owner/name.git".
func ParseRepoURL(rawURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(rawURL, "/"), ".git")

	idx := strings.Index(trimmed, "://")
	path := trimmed
	if idx >= 0 {
		path = trimmed[idx+3:]
	}

	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid repository url %q: expected .../owner/name", rawURL)
	}

	owner, name = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository url %q: empty owner or name", rawURL)
	}

	return owner, name, nil
}

// Validate checks the invariants of §3: failure_count >= 0, and status =
// error implies failure_count > 0.
func (r Repository) Validate() error {
	if r.FailureCount < 0 {
		return fmt.Errorf("repository %s: failure_count must be >= 0, got %d", r.URL, r.FailureCount)
	}
	if r.Status == RepoStatusError && r.FailureCount == 0 {
		return fmt.Errorf("repository %s: status=error requires failure_count > 0", r.URL)
	}
	if _, _, err := r.OwnerRepo(); err != nil {
		return err
	}
	return nil
}

// ConfigOverrideString returns a config override value, or "" if absent.
func (r Repository) ConfigOverrideString(key string) string {
	if r.ConfigOverride == nil {
		return ""
	}
	return r.ConfigOverride[key]
}
