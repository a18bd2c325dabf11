package driven

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/prwatch/pr-monitor/internal/domain/model"
)

// ErrNotFound is returned by store lookups that find nothing, where the
// caller needs to distinguish "absent" from "empty".
var ErrNotFound = errors.New("not found")

// RepoStore is the driven port for repository persistence. The core is not
// the source of truth for repositories (§3: "created externally"); it only
// reads them and mutates FailureCount/LastPolledAt.
type RepoStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Repository, error)
	ListActive(ctx context.Context) ([]model.Repository, error)
	ListDue(ctx context.Context, now time.Time) ([]model.Repository, error)
	UpdatePollOutcome(ctx context.Context, id uuid.UUID, polledAt time.Time, failureCount int, status model.RepoStatus) error
}

// PRStore is the driven port for pull-request persistence, used by C7 for
// the create/update partition and bulk writes, and by C5/C7 for id lookups.
type PRStore interface {
	GetExisting(ctx context.Context, repositoryID uuid.UUID, numbers []int) (map[int]model.PullRequest, error)
	BulkInsert(ctx context.Context, prs []model.PullRequest) (map[int]uuid.UUID, error)
	BulkUpdate(ctx context.Context, prs []model.PullRequest) error
}

// CheckStore is the driven port for check-run persistence.
type CheckStore interface {
	GetExisting(ctx context.Context, externalIDs []string) (map[string]model.CheckRun, error)
	BulkInsert(ctx context.Context, runs []model.CheckRun) error
	BulkUpdate(ctx context.Context, runs []model.CheckRun) error
}

// HistoryStore is the driven port for the append-only state-transition log.
type HistoryStore interface {
	Append(ctx context.Context, transitions []model.StateTransition) error
}

// StateSnapshotStore is the driven port C5 reads through: the latest known
// PR/check state for one or many repositories.
type StateSnapshotStore interface {
	LoadRepositoryState(ctx context.Context, repositoryID uuid.UUID) (RepositoryState, error)
}

// StoredCheckState is the latest known conclusion for one named check on a PR.
type StoredCheckState struct {
	Conclusion string
	UpdatedAt  time.Time
}

// StoredPRState is C5's per-PR projection of persisted state.
type StoredPRState struct {
	PrimaryID uuid.UUID
	PRNumber  int
	State     model.PRState
	HeadSHA   string
	UpdatedAt time.Time
	Checks    map[string]StoredCheckState
}

// RepositoryState is C5's output: stored PR state keyed by PR number.
type RepositoryState struct {
	PRs map[int]StoredPRState
}
