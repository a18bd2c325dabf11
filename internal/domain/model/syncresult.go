package model

import (
	"time"

	"github.com/prwatch/pr-monitor/internal/discoveryerr"
)

// SynchronizationResult is C7's per-cycle outcome.
type SynchronizationResult struct {
	PRsProcessed     int
	PRsCreated       int
	PRsUpdated       int
	ChecksProcessed  int
	ChecksCreated    int
	ChecksUpdated    int
	StateTransitions int
	Errors           []*discoveryerr.Error
	ProcessingTime   time.Duration
}
