// Package discoveryerr implements the engine's error taxonomy (spec §7):
// errors are collected, not thrown, wherever a partial result is meaningful.
// Every error carries a type tag, a human message, a context bag, a
// timestamp, and a recoverable flag.
package discoveryerr

import (
	"fmt"
	"time"
)

// Type tags errors (spec §7).
type Type string

// Type values.
const (
	TypeRepositoryNotFound      Type = "repository_not_found"
	TypeAuthenticationError     Type = "authentication_error"
	TypeRateLimitExceeded       Type = "rate_limit_exceeded"
	TypeGitHubAPIError          Type = "github_api_error"
	TypeInvalidRepositoryURL    Type = "invalid_repository_url"
	TypePRConversionError       Type = "pr_conversion_error"
	TypeRepositoryProcessing    Type = "repository_processing_error"
	TypeDiscoveryCycle          Type = "discovery_cycle_error"
	TypePRBatchSync             Type = "pr_batch_sync_error"
	TypeSynchronization         Type = "synchronization_error"
	TypeUnexpected              Type = "unexpected_error"
)

// recoverable records, per type, whether the condition is transient
// (§4.3's error taxonomy table and §7's taxonomy).
var recoverable = map[Type]bool{
	TypeRepositoryNotFound:   false,
	TypeAuthenticationError:  false,
	TypeRateLimitExceeded:    true,
	TypeGitHubAPIError:       true,
	TypeInvalidRepositoryURL: false,
	TypePRConversionError:    true,
	TypeRepositoryProcessing: true,
	TypeDiscoveryCycle:       false,
	TypePRBatchSync:          true,
	TypeSynchronization:      true,
	TypeUnexpected:           true,
}

// Error is the engine's structured error type.
type Error struct {
	Kind        Type
	Message     string
	Context     map[string]any
	OccurredAt  time.Time
	RecoverableOverride *bool
	Cause       error
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/As to see through to the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the condition is considered transient.
func (e *Error) Recoverable() bool {
	if e.RecoverableOverride != nil {
		return *e.RecoverableOverride
	}
	return recoverable[e.Kind]
}

// New constructs an Error of the given kind with a context bag.
func New(kind Type, message string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: ctx, OccurredAt: time.Now()}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Type, message string, cause error, ctx map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: ctx, OccurredAt: time.Now(), Cause: cause}
}
