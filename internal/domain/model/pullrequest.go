package model

import (
	"time"

	"github.com/google/uuid"
)

// PullRequest is a persisted pull request record, owned exclusively by the
// synchronizer (C7).
type PullRequest struct {
	ID           uuid.UUID
	RepositoryID uuid.UUID
	Number       int
	Title        string
	Author       string
	State        PRState
	Draft        bool
	BaseBranch   string
	BaseSHA      string
	HeadBranch   string
	HeadSHA      string
	URL          string
	Metadata     map[string]string
	LastChecked  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DiscoveredPR is a transient in-memory projection of a remote PR payload,
// used only for diffing against stored state within a single cycle.
type DiscoveredPR struct {
	Number     int
	Title      string
	Author     string
	State      PRState
	Draft      bool
	BaseBranch string
	BaseSHA    string
	HeadBranch string
	HeadSHA    string
	URL        string
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	CheckRuns []DiscoveredCheckRun
}
