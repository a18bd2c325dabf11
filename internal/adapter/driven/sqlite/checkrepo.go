package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CheckStore = (*CheckRepo)(nil)

// CheckRepo is the SQLite implementation of the CheckStore port interface.
type CheckRepo struct {
	db *DB
}

// NewCheckRepo creates a new CheckRepo backed by the given DB.
func NewCheckRepo(db *DB) *CheckRepo {
	return &CheckRepo{db: db}
}

const checkColumns = `id, external_id, pull_request_id, name, status, conclusion, logs_url, details_url, started_at, completed_at, metadata`

// GetExisting looks up stored check run rows by external id, keyed by that id.
func (r *CheckRepo) GetExisting(ctx context.Context, externalIDs []string) (map[string]model.CheckRun, error) {
	result := make(map[string]model.CheckRun, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(externalIDs))
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM check_runs WHERE external_id IN (%s)`, checkColumns, strings.Join(placeholders, ","))

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing check runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cr, err := scanCheckRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		result[cr.ExternalID] = *cr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check runs: %w", err)
	}

	return result, nil
}

// BulkInsert inserts new check run rows inside a single transaction.
func (r *CheckRepo) BulkInsert(ctx context.Context, runs []model.CheckRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		INSERT INTO check_runs (
			id, external_id, pull_request_id, name, status, conclusion,
			logs_url, details_url, started_at, completed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, cr := range runs {
		id := cr.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		metadataJSON, err := json.Marshal(cr.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for check run %s: %w", cr.ExternalID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			id.String(), cr.ExternalID, cr.PullRequestID.String(), cr.Name,
			string(cr.Status), string(cr.Conclusion), cr.LogsURL, cr.DetailsURL,
			nullableTime(cr.StartedAt), nullableTime(cr.CompletedAt), string(metadataJSON),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert check run %s: already exists: %w", cr.ExternalID, err)
			}
			return fmt.Errorf("insert check run %s: %w", cr.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit check runs transaction: %w", err)
	}

	return nil
}

// BulkUpdate updates existing check run rows inside a single transaction,
// matched by external id.
func (r *CheckRepo) BulkUpdate(ctx context.Context, runs []model.CheckRun) error {
	if len(runs) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const query = `
		UPDATE check_runs SET
			status = ?, conclusion = ?, logs_url = ?, details_url = ?,
			started_at = ?, completed_at = ?, metadata = ?
		WHERE external_id = ?
	`

	for _, cr := range runs {
		metadataJSON, err := json.Marshal(cr.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for check run %s: %w", cr.ExternalID, err)
		}

		result, err := tx.ExecContext(ctx, query,
			string(cr.Status), string(cr.Conclusion), cr.LogsURL, cr.DetailsURL,
			nullableTime(cr.StartedAt), nullableTime(cr.CompletedAt), string(metadataJSON),
			cr.ExternalID,
		)
		if err != nil {
			return fmt.Errorf("update check run %s: %w", cr.ExternalID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("update check run %s: %w", cr.ExternalID, driven.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit check runs transaction: %w", err)
	}

	return nil
}

func scanCheckRun(s scanner) (*model.CheckRun, error) {
	var cr model.CheckRun
	var id, pullRequestID string
	var status, conclusion string
	var startedAt, completedAt sql.NullString
	var metadataJSON string

	err := s.Scan(
		&id, &cr.ExternalID, &pullRequestID, &cr.Name, &status, &conclusion,
		&cr.LogsURL, &cr.DetailsURL, &startedAt, &completedAt, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if cr.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse check run id: %w", err)
	}
	if cr.PullRequestID, err = uuid.Parse(pullRequestID); err != nil {
		return nil, fmt.Errorf("parse pull request id: %w", err)
	}

	cr.Status = model.CheckStatus(status)
	cr.Conclusion = model.CheckConclusion(conclusion)

	if startedAt.Valid && startedAt.String != "" {
		if cr.StartedAt, err = parseTime(startedAt.String); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
	}
	if completedAt.Valid && completedAt.String != "" {
		if cr.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &cr.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &cr, nil
}
