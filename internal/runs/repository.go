package runs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
)

const runColumns = `id, kind, scope, run_date, granularity, status, total, succeeded, failed, failures, started_at, finished_at, created_at, updated_at`

// Repository handles run-tracking database operations (portfolio.db)
type Repository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewRepository creates a new run repository
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "runs").Logger(),
	}
}

// Begin creates a run in the started state and returns it
func (r *Repository) Begin(kind, scope, runDate string, granularity domain.Granularity) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		Scope:       scope,
		RunDate:     runDate,
		Granularity: string(granularity),
		Status:      StatusStarted,
		StartedAt:   now.UTC(),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	_, err := r.portfolioDB.Exec(`
		INSERT INTO runs
		(id, kind, scope, run_date, granularity, status, total, succeeded, failed, failures,
		 started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, '[]', ?, ?, ?)
	`, run.ID, run.Kind, run.Scope, run.RunDate, run.Granularity, string(run.Status),
		now.Unix(), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// BeginExclusive creates a run in the started state only when no
// non-terminal run exists for the same kind, scope, date and granularity.
// The existence check and the insert are a single statement, so two
// concurrent triggers for the same key cannot both claim it; the loser gets
// domain.ErrConflict.
func (r *Repository) BeginExclusive(kind, scope, runDate string, granularity domain.Granularity) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		Scope:       scope,
		RunDate:     runDate,
		Granularity: string(granularity),
		Status:      StatusStarted,
		StartedAt:   now.UTC(),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	res, err := r.portfolioDB.Exec(`
		INSERT INTO runs
		(id, kind, scope, run_date, granularity, status, total, succeeded, failed, failures,
		 started_at, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, 0, 0, 0, '[]', ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM runs
			WHERE kind = ? AND scope = ? AND run_date = ? AND granularity = ?
			  AND status IN ('started', 'in_progress')
		)
	`, run.ID, run.Kind, run.Scope, run.RunDate, run.Granularity, string(run.Status),
		now.Unix(), now.Unix(), now.Unix(),
		kind, scope, runDate, string(granularity))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s run %s/%s/%s already active: %w",
			kind, scope, runDate, granularity, domain.ErrConflict)
	}
	return run, nil
}

// MarkInProgress transitions a run to in_progress
func (r *Repository) MarkInProgress(id string) error {
	return r.setStatus(id, StatusInProgress, false)
}

// Cancel transitions a run to cancelled
func (r *Repository) Cancel(id string) error {
	return r.setStatus(id, StatusCancelled, true)
}

func (r *Repository) setStatus(id string, status Status, finished bool) error {
	now := time.Now().Unix()
	var res sql.Result
	var err error
	if finished {
		res, err = r.portfolioDB.Exec(
			"UPDATE runs SET status = ?, finished_at = ?, updated_at = ? WHERE id = ?",
			string(status), now, now, id)
	} else {
		res, err = r.portfolioDB.Exec(
			"UPDATE runs SET status = ?, updated_at = ? WHERE id = ?",
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Finish records the final tally and transitions the run to completed when
// every portfolio succeeded, failed otherwise.
func (r *Repository) Finish(id string, total, succeeded int, failures []Failure) error {
	status := StatusCompleted
	if len(failures) > 0 && succeeded == 0 {
		status = StatusFailed
	} else if len(failures) > 0 {
		// Partial success still completes the run; the tally carries the
		// failures for inspection.
		status = StatusCompleted
	}

	payload, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode run failures: %w", err)
	}
	if failures == nil {
		payload = []byte("[]")
	}

	now := time.Now().Unix()
	res, err := r.portfolioDB.Exec(`
		UPDATE runs
		SET status = ?, total = ?, succeeded = ?, failed = ?, failures = ?,
		    finished_at = ?, updated_at = ?
		WHERE id = ?
	`, string(status), total, succeeded, len(failures), string(payload), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// FailRun marks a run failed with a single top-level error
func (r *Repository) FailRun(id string, cause error) error {
	failures := []Failure{{Error: cause.Error()}}
	payload, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode run failure: %w", err)
	}

	now := time.Now().Unix()
	_, err = r.portfolioDB.Exec(`
		UPDATE runs
		SET status = ?, failed = 1, failures = ?, finished_at = ?, updated_at = ?
		WHERE id = ?
	`, string(StatusFailed), string(payload), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// GetByID retrieves a run
func (r *Repository) GetByID(id string) (*Run, error) {
	row := r.portfolioDB.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// HasActive reports whether a non-terminal run exists for the given kind,
// scope, date and granularity. Used to short-circuit overlapping triggers.
func (r *Repository) HasActive(kind, scope, runDate string, granularity domain.Granularity) (bool, error) {
	var one int
	err := r.portfolioDB.QueryRow(`
		SELECT 1 FROM runs
		WHERE kind = ? AND scope = ? AND run_date = ? AND granularity = ?
		  AND status IN ('started', 'in_progress')
		LIMIT 1
	`, kind, scope, runDate, string(granularity)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check active runs: %w", err)
	}
	return true, nil
}

// Query returns runs matching the filter, newest first
func (r *Repository) Query(filter Filter) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	var args []interface{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.PortfolioID != "" {
		query += " AND scope = ?"
		args = append(args, filter.PortfolioID)
	}
	if filter.From != "" {
		query += " AND run_date >= ?"
		args = append(args, filter.From)
	}
	if filter.To != "" {
		query += " AND run_date <= ?"
		args = append(args, filter.To)
	}

	query += " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.portfolioDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return result, nil
}

// ReapStale reclassifies runs stuck in a non-terminal state past the
// threshold as failed. A stuck run is never silently retried; it surfaces in
// queries as failed with an explanatory entry.
func (r *Repository) ReapStale(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	now := time.Now().Unix()

	failures, _ := json.Marshal([]Failure{{Error: "run exceeded stale threshold, reclassified as failed"}})

	res, err := r.portfolioDB.Exec(`
		UPDATE runs
		SET status = ?, failures = ?, finished_at = ?, updated_at = ?
		WHERE status IN ('started', 'in_progress') AND updated_at < ?
	`, string(StatusFailed), string(failures), now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale runs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reaped runs: %w", err)
	}
	if n > 0 {
		r.log.Warn().Int64("count", n).Msg("Stale runs reclassified as failed")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (Run, error) {
	var run Run
	var status, failures string
	var startedAt, createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(
		&run.ID,
		&run.Kind,
		&run.Scope,
		&run.RunDate,
		&run.Granularity,
		&status,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&failures,
		&startedAt,
		&finishedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return run, err
	}

	run.Status = Status(status)
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.CreatedAt = time.Unix(createdAt, 0).UTC()
	run.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	if failures != "" {
		if err := json.Unmarshal([]byte(failures), &run.Failures); err != nil {
			return run, fmt.Errorf("corrupt failures payload for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}
