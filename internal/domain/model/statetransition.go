package model

import (
	"time"

	"github.com/google/uuid"
)

// StateTransition is an append-only audit row recording one persisted state
// change. Immutable once written.
type StateTransition struct {
	ID         uuid.UUID
	EntityID   uuid.UUID
	EntityKind EntityKind
	OldState   string // empty for creation
	NewState   string
	Trigger    TriggerKind
	Metadata   map[string]string
	CreatedAt  time.Time
}
