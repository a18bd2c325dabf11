package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PRStore = (*PRRepo)(nil)

// PRRepo is the SQLite implementation of the PRStore port interface,
// exercised by the synchronizer (C7).
type PRRepo struct {
	db *DB
}

// NewPRRepo creates a new PRRepo backed by the given DB.
func NewPRRepo(db *DB) *PRRepo {
	return &PRRepo{db: db}
}

const prColumns = `id, repository_id, number, title, author, state, draft, base_branch, base_sha, head_branch, head_sha, url, metadata, last_checked, created_at, updated_at`

// GetExisting looks up the stored rows for a set of PR numbers within one
// repository, keyed by number. Numbers with no stored row are simply absent
// from the result.
func (r *PRRepo) GetExisting(ctx context.Context, repositoryID uuid.UUID, numbers []int) (map[int]model.PullRequest, error) {
	result := make(map[int]model.PullRequest, len(numbers))
	if len(numbers) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(numbers))
	args := make([]any, 0, len(numbers)+1)
	args = append(args, repositoryID.String())
	for i, n := range numbers {
		placeholders[i] = "?"
		args = append(args, n)
	}

	query := fmt.Sprintf(`SELECT %s FROM pull_requests WHERE repository_id = ? AND number IN (%s)`,
		prColumns, strings.Join(placeholders, ","))

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing pull requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		result[pr.Number] = *pr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return result, nil
}

// BulkInsert inserts new pull request rows inside a single transaction and
// returns the generated id for each, keyed by PR number. A unique-constraint
// violation on (repository_id, number) fails the whole batch with an
// "already exists" error; the insert is not retried as an update.
func (r *PRRepo) BulkInsert(ctx context.Context, prs []model.PullRequest) (map[int]uuid.UUID, error) {
	ids := make(map[int]uuid.UUID, len(prs))
	if len(prs) == 0 {
		return ids, nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO pull_requests (
			id, repository_id, number, title, author, state, draft,
			base_branch, base_sha, head_branch, head_sha, url, metadata,
			last_checked, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, pr := range prs {
		id := pr.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		metadataJSON, err := json.Marshal(pr.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata for pr #%d: %w", pr.Number, err)
		}

		draft := 0
		if pr.Draft {
			draft = 1
		}

		_, err = tx.ExecContext(ctx, query,
			id.String(), pr.RepositoryID.String(), pr.Number, pr.Title, pr.Author,
			string(pr.State), draft, pr.BaseBranch, pr.BaseSHA, pr.HeadBranch, pr.HeadSHA,
			pr.URL, string(metadataJSON), nullableTime(pr.LastChecked),
			pr.CreatedAt.UTC().Format(time.RFC3339), pr.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("insert pull request %s#%d: already exists: %w", pr.RepositoryID, pr.Number, err)
			}
			return nil, fmt.Errorf("insert pull request %s#%d: %w", pr.RepositoryID, pr.Number, err)
		}

		ids[pr.Number] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert transaction: %w", err)
	}

	return ids, nil
}

// BulkUpdate updates existing pull request rows inside a single transaction.
func (r *PRRepo) BulkUpdate(ctx context.Context, prs []model.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		UPDATE pull_requests SET
			title = ?, author = ?, state = ?, draft = ?,
			base_branch = ?, base_sha = ?, head_branch = ?, head_sha = ?,
			url = ?, metadata = ?, last_checked = ?, updated_at = ?
		WHERE id = ?
	`

	for _, pr := range prs {
		metadataJSON, err := json.Marshal(pr.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for pr %s: %w", pr.ID, err)
		}

		draft := 0
		if pr.Draft {
			draft = 1
		}

		result, err := tx.ExecContext(ctx, query,
			pr.Title, pr.Author, string(pr.State), draft,
			pr.BaseBranch, pr.BaseSHA, pr.HeadBranch, pr.HeadSHA,
			pr.URL, string(metadataJSON), nullableTime(pr.LastChecked),
			pr.UpdatedAt.UTC().Format(time.RFC3339), pr.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("update pull request %s: %w", pr.ID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("update pull request %s: %w", pr.ID, driven.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update transaction: %w", err)
	}

	return nil
}

func scanPR(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var id, repositoryID string
	var state string
	var draft int
	var metadataJSON string
	var lastChecked sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(
		&id, &repositoryID, &pr.Number, &pr.Title, &pr.Author, &state, &draft,
		&pr.BaseBranch, &pr.BaseSHA, &pr.HeadBranch, &pr.HeadSHA, &pr.URL,
		&metadataJSON, &lastChecked, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pr.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse pull request id: %w", err)
	}
	if pr.RepositoryID, err = uuid.Parse(repositoryID); err != nil {
		return nil, fmt.Errorf("parse repository id: %w", err)
	}

	pr.State = model.PRState(state)
	pr.Draft = draft != 0

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &pr.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	if lastChecked.Valid && lastChecked.String != "" {
		if pr.LastChecked, err = parseTime(lastChecked.String); err != nil {
			return nil, fmt.Errorf("parse last_checked: %w", err)
		}
	}
	if pr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if pr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &pr, nil
}

// nullableTime renders a zero time.Time as a SQL NULL, otherwise RFC3339.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// isUniqueViolation reports whether err looks like a SQLite unique
// constraint failure, independent of the exact driver error type.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
