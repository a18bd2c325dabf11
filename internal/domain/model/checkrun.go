package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckRun is a persisted CI/CD check run belonging to exactly one PullRequest.
type CheckRun struct {
	ID           uuid.UUID
	ExternalID   string // unique within the check namespace
	PullRequestID uuid.UUID
	Name         string
	Status       CheckStatus
	Conclusion   CheckConclusion // present only when Status == CheckStatusCompleted
	LogsURL      string
	DetailsURL   string
	StartedAt    time.Time
	CompletedAt  time.Time
	Metadata     map[string]string
}

// Validate enforces §3's completed/conclusion coupling invariant.
func (c CheckRun) Validate() error {
	if c.Status == CheckStatusCompleted && c.Conclusion == "" {
		return fmt.Errorf("completed check run %s requires a conclusion", c.ExternalID)
	}
	if c.Status != CheckStatusCompleted && c.Conclusion != "" {
		return fmt.Errorf("non-completed check run %s must not carry a conclusion", c.ExternalID)
	}
	return nil
}

// DiscoveredCheckRun is a transient in-memory projection of a remote check
// run, used only for diffing within a single cycle.
type DiscoveredCheckRun struct {
	ExternalID  string
	Name        string
	Status      CheckStatus
	Conclusion  CheckConclusion
	LogsURL     string
	DetailsURL  string
	StartedAt   time.Time
	CompletedAt time.Time
	Metadata    map[string]string
}
