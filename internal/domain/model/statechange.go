package model

import (
	"time"

	"github.com/google/uuid"
)

// StateChange is a transient event describing one significant difference
// between a discovered entity and its stored counterpart. Owned by a single
// cycle; discarded at cycle end.
type StateChange struct {
	EntityKind EntityKind
	// EntityID is the zero UUID for ChangeCreated events; the synchronizer
	// resolves it to the newly inserted row's id before StateChange values
	// are handed to the event publisher. Newly inserted check runs have no
	// returned id, so their created events keep the zero UUID.
	EntityID   uuid.UUID
	ExternalID string // pr_number (as string) or check run external_id
	OldState   string
	NewState   string
	Change     ChangeKind
	Metadata   map[string]string
	DetectedAt time.Time

	// PRNumber and RepositoryID locate the owning PR/repo for synchronizer
	// id resolution and for event publication context.
	RepositoryID uuid.UUID
	PRNumber     int
}

// IsPlaceholder reports whether EntityID has not yet been resolved to a
// concrete row id (true for freshly detected "created" events).
func (c StateChange) IsPlaceholder() bool {
	return c.EntityID == uuid.Nil
}

// metadataChangeTypeKey is the well-known metadata key used to distinguish
// the two sub-kinds of a PR "updated" event (§4.6).
const metadataChangeTypeKey = "change_type"

// MetadataChangeType returns the change_type metadata value, or "".
func (c StateChange) MetadataChangeType() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[metadataChangeTypeKey]
}

// ChangeTypeHeadSHAUpdated and ChangeTypeMetadataUpdated are the two
// sub-kinds of a PR ChangeUpdated event.
const (
	ChangeTypeHeadSHAUpdated  = "head_sha_updated"
	ChangeTypeMetadataUpdated = "metadata_updated"
)
