package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HistoryStore = (*HistoryRepo)(nil)

// HistoryRepo is the SQLite implementation of the HistoryStore port: an
// append-only audit log of persisted state transitions.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a new HistoryRepo backed by the given DB.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Append records a batch of state transitions inside a single transaction.
// Rows are never updated or deleted once written.
func (r *HistoryRepo) Append(ctx context.Context, transitions []model.StateTransition) error {
	if len(transitions) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT INTO pr_state_history (id, entity_id, entity_kind, old_state, new_state, trigger, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, t := range transitions {
		id := t.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		metadataJSON, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for transition on %s: %w", t.EntityID, err)
		}

		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		_, err = tx.ExecContext(ctx, query,
			id.String(), t.EntityID.String(), string(t.EntityKind),
			t.OldState, t.NewState, string(t.Trigger), string(metadataJSON),
			createdAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("append transition for %s: %w", t.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transitions: %w", err)
	}

	return nil
}
