package runs

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/folioledger/folioledger/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE runs (
			id           TEXT    PRIMARY KEY,
			kind         TEXT    NOT NULL,
			scope        TEXT    NOT NULL DEFAULT 'all',
			run_date     TEXT    NOT NULL,
			granularity  TEXT    NOT NULL,
			status       TEXT    NOT NULL CHECK (status IN ('started', 'in_progress', 'completed', 'failed', 'cancelled')),
			total        INTEGER NOT NULL DEFAULT 0,
			succeeded    INTEGER NOT NULL DEFAULT 0,
			failed       INTEGER NOT NULL DEFAULT 0,
			failures     TEXT    NOT NULL DEFAULT '[]',
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create runs table: %v", err)
	}

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db, log)
}

// TestRunLifecycle tests the started -> in_progress -> completed transition
// with a tally
func TestRunLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	run, err := repo.Begin(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusStarted, run.Status)

	assert.NoError(t, repo.MarkInProgress(run.ID))

	got, err := repo.GetByID(run.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.False(t, got.Status.Terminal())

	failures := []Failure{{PortfolioID: "pf-2", Error: "no usable price"}}
	assert.NoError(t, repo.Finish(run.ID, 3, 2, failures))

	got, err = repo.GetByID(run.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status, "partial success still completes")
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Len(t, got.Failures, 1)
	assert.Equal(t, "pf-2", got.Failures[0].PortfolioID)
	assert.NotNil(t, got.FinishedAt)
	assert.True(t, got.Status.Terminal())
}

func TestFinish_AllFailedMarksRunFailed(t *testing.T) {
	repo := newTestRepo(t)

	run, err := repo.Begin(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	failures := []Failure{{PortfolioID: "pf-1", Error: "boom"}, {PortfolioID: "pf-2", Error: "boom"}}
	assert.NoError(t, repo.Finish(run.ID, 2, 0, failures))

	got, err := repo.GetByID(run.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestGetByID_Missing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestHasActive tests the cross-trigger exclusion signal
func TestHasActive(t *testing.T) {
	repo := newTestRepo(t)

	active, err := repo.HasActive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.False(t, active)

	run, err := repo.Begin(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	active, err = repo.HasActive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.True(t, active)

	// A different key does not collide.
	active, err = repo.HasActive(KindSnapshotRun, "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.False(t, active)
	active, err = repo.HasActive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityWeekly)
	assert.NoError(t, err)
	assert.False(t, active)

	// Terminal runs stop blocking.
	assert.NoError(t, repo.Finish(run.ID, 1, 1, nil))
	active, err = repo.HasActive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.False(t, active)
}

// TestBeginExclusive_OneClaimPerKey tests the atomic claim: the check for an
// active run and the insert are one statement, so a second trigger for the
// same key loses with a conflict instead of creating a duplicate run
func TestBeginExclusive_OneClaimPerKey(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.BeginExclusive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.Equal(t, StatusStarted, first.Status)

	_, err = repo.BeginExclusive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Only one run exists for the key.
	list, err := repo.Query(Filter{Kind: KindSnapshotRun})
	assert.NoError(t, err)
	assert.Len(t, list, 1)

	// A different key claims independently.
	_, err = repo.BeginExclusive(KindSnapshotRun, "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	// A terminal run frees the key.
	assert.NoError(t, repo.Finish(first.ID, 1, 1, nil))
	_, err = repo.BeginExclusive(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	repo := newTestRepo(t)

	run, err := repo.Begin(KindRematch, "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.NoError(t, repo.Cancel(run.ID))

	got, err := repo.GetByID(run.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, repo.Cancel("nope"), domain.ErrNotFound)
}

// TestReapStale tests that runs stuck past the threshold are reclassified as
// failed while fresh runs survive
func TestReapStale(t *testing.T) {
	repo := newTestRepo(t)

	stale, err := repo.Begin(KindSnapshotRun, "all", "2024-01-30", domain.GranularityDaily)
	assert.NoError(t, err)
	fresh, err := repo.Begin(KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	// Age the first run two hours into the past.
	_, err = repo.portfolioDB.Exec(
		"UPDATE runs SET updated_at = ? WHERE id = ?",
		time.Now().Add(-2*time.Hour).Unix(), stale.ID)
	assert.NoError(t, err)

	reaped, err := repo.ReapStale(time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	got, err := repo.GetByID(stale.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Len(t, got.Failures, 1)

	got, err = repo.GetByID(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
}

func TestQuery_Filters(t *testing.T) {
	repo := newTestRepo(t)

	a, err := repo.Begin(KindSnapshotRun, "all", "2024-01-30", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.NoError(t, repo.Finish(a.ID, 1, 1, nil))
	b, err := repo.Begin(KindBackup, "all", "2024-01-31", "")
	assert.NoError(t, err)

	completed, err := repo.Query(Filter{Status: StatusCompleted})
	assert.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Equal(t, a.ID, completed[0].ID)

	backups, err := repo.Query(Filter{Kind: KindBackup})
	assert.NoError(t, err)
	assert.Len(t, backups, 1)
	assert.Equal(t, b.ID, backups[0].ID)

	ranged, err := repo.Query(Filter{From: "2024-01-31", To: "2024-01-31"})
	assert.NoError(t, err)
	assert.Len(t, ranged, 1)
	assert.Equal(t, b.ID, ranged[0].ID)
}
