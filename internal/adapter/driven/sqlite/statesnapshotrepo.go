package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
	"github.com/prwatch/pr-monitor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StateSnapshotStore = (*StateSnapshotRepo)(nil)

// StateSnapshotRepo is the SQLite implementation of the StateSnapshotStore
// port that C5 reads through: one repository's latest known PR and check
// state, projected directly from the pull_requests/check_runs tables rather
// than from the history log.
type StateSnapshotRepo struct {
	db *DB
}

// NewStateSnapshotRepo creates a new StateSnapshotRepo backed by the given DB.
func NewStateSnapshotRepo(db *DB) *StateSnapshotRepo {
	return &StateSnapshotRepo{db: db}
}

// LoadRepositoryState loads every stored PR for a repository, each annotated
// with its stored check-run conclusions keyed by check name.
func (r *StateSnapshotRepo) LoadRepositoryState(ctx context.Context, repositoryID uuid.UUID) (driven.RepositoryState, error) {
	const prQuery = `SELECT id, number, state, head_sha, updated_at FROM pull_requests WHERE repository_id = ?`

	rows, err := r.db.Reader.QueryContext(ctx, prQuery, repositoryID.String())
	if err != nil {
		return driven.RepositoryState{}, fmt.Errorf("query pull requests for repository %s: %w", repositoryID, err)
	}

	state := driven.RepositoryState{PRs: map[int]driven.StoredPRState{}}
	type prRow struct {
		id      string
		number  int
		prState string
		headSHA string
		updated string
	}
	var prRows []prRow
	for rows.Next() {
		var row prRow
		if err := rows.Scan(&row.id, &row.number, &row.prState, &row.headSHA, &row.updated); err != nil {
			rows.Close()
			return driven.RepositoryState{}, fmt.Errorf("scan pull request row: %w", err)
		}
		prRows = append(prRows, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return driven.RepositoryState{}, fmt.Errorf("iterate pull requests: %w", err)
	}
	rows.Close()

	for _, row := range prRows {
		id, err := uuid.Parse(row.id)
		if err != nil {
			return driven.RepositoryState{}, fmt.Errorf("parse pull request id: %w", err)
		}

		updatedAt, err := parseTime(row.updated)
		if err != nil {
			return driven.RepositoryState{}, fmt.Errorf("parse updated_at: %w", err)
		}

		checks, err := r.loadChecksForPR(ctx, id)
		if err != nil {
			return driven.RepositoryState{}, err
		}

		state.PRs[row.number] = driven.StoredPRState{
			PrimaryID: id,
			PRNumber:  row.number,
			State:     model.PRState(row.prState),
			HeadSHA:   row.headSHA,
			UpdatedAt: updatedAt,
			Checks:    checks,
		}
	}

	return state, nil
}

func (r *StateSnapshotRepo) loadChecksForPR(ctx context.Context, prID uuid.UUID) (map[string]driven.StoredCheckState, error) {
	// Rows are read in completed_at order (never-completed runs first), so for
	// a name with several runs the one with the latest completed_at is kept.
	const query = `SELECT name, status, conclusion, completed_at FROM check_runs WHERE pull_request_id = ? ORDER BY completed_at`

	rows, err := r.db.Reader.QueryContext(ctx, query, prID.String())
	if err != nil {
		return nil, fmt.Errorf("query check runs for pull request %s: %w", prID, err)
	}
	defer rows.Close()

	checks := make(map[string]driven.StoredCheckState)
	for rows.Next() {
		var name, status, conclusion string
		var completedAt sql.NullString
		if err := rows.Scan(&name, &status, &conclusion, &completedAt); err != nil {
			return nil, fmt.Errorf("scan check run row: %w", err)
		}

		recorded := conclusion
		if recorded == "" {
			recorded = "running"
		}

		var updatedAt time.Time
		if completedAt.Valid && completedAt.String != "" {
			if updatedAt, err = parseTime(completedAt.String); err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
		}

		checks[name] = driven.StoredCheckState{Conclusion: recorded, UpdatedAt: updatedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check runs: %w", err)
	}

	return checks, nil
}
