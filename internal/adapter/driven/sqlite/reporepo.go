package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
// The core never creates or removes repository rows (§3); it only reads
// them and mutates the poll outcome columns.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

const repoColumns = `id, url, name, status, failure_count, config_override, last_polled_at, polling_interval_seconds`

// Get retrieves a repository by id. Returns driven.ErrNotFound if it does
// not exist.
func (r *RepoRepo) Get(ctx context.Context, id uuid.UUID) (*model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", id, err)
	}

	return repo, nil
}

// ListActive returns every repository whose status is active, ordered by url.
func (r *RepoRepo) ListActive(ctx context.Context) ([]model.Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories WHERE status = ? ORDER BY url`

	return r.queryRepos(ctx, query, string(model.RepoStatusActive))
}

// ListDue returns every active repository whose next poll time (last_polled_at
// + polling_interval_seconds) has passed, or which has never been polled.
func (r *RepoRepo) ListDue(ctx context.Context, now time.Time) ([]model.Repository, error) {
	query := `
		SELECT ` + repoColumns + `
		FROM repositories
		WHERE status = ?
		  AND (
		        last_polled_at IS NULL
		        OR datetime(last_polled_at, '+' || polling_interval_seconds || ' seconds') <= datetime(?)
		      )
		ORDER BY url
	`

	return r.queryRepos(ctx, query, string(model.RepoStatusActive), now.UTC().Format(time.RFC3339))
}

// UpdatePollOutcome records the result of one poll attempt: the time it
// occurred, the repository's running failure count, and its derived status.
func (r *RepoRepo) UpdatePollOutcome(ctx context.Context, id uuid.UUID, polledAt time.Time, failureCount int, status model.RepoStatus) error {
	const query = `
		UPDATE repositories
		SET last_polled_at = ?, failure_count = ?, status = ?
		WHERE id = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query, polledAt.UTC().Format(time.RFC3339), failureCount, string(status), id.String())
	if err != nil {
		return fmt.Errorf("update poll outcome for repository %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update poll outcome for repository %s: %w", id, driven.ErrNotFound)
	}

	return nil
}

func (r *RepoRepo) queryRepos(ctx context.Context, query string, args ...any) ([]model.Repository, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var id string
	var status string
	var configJSON string
	var lastPolledAt sql.NullString
	var pollingSeconds int

	err := s.Scan(&id, &repo.URL, &repo.Name, &status, &repo.FailureCount, &configJSON, &lastPolledAt, &pollingSeconds)
	if err != nil {
		return nil, err
	}

	repo.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse repository id: %w", err)
	}

	repo.Status = model.RepoStatus(status)
	repo.PollingInterval = time.Duration(pollingSeconds) * time.Second

	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &repo.ConfigOverride); err != nil {
			return nil, fmt.Errorf("unmarshal config_override: %w", err)
		}
	}

	if lastPolledAt.Valid && lastPolledAt.String != "" {
		repo.LastPolledAt, err = parseTime(lastPolledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_polled_at: %w", err)
		}
	}

	return &repo, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
