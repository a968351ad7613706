// Package runs tracks executions of background and on-demand engine
// operations (snapshot runs, rematches, backups). The run record doubles as
// the mutual-exclusion signal between overlapping triggers and as the
// queryable execution summary for operators.
package runs

import (
	"time"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Kind identifies what a run executed
const (
	KindSnapshotRun = "snapshot_run"
	KindRematch     = "rematch"
	KindBackup      = "backup"
)

// Failure records one portfolio's failure inside a bulk run
type Failure struct {
	PortfolioID string `json:"portfolio_id"`
	Error       string `json:"error"`
}

// Run is one tracked execution. Bulk snapshot runs tally per-portfolio
// outcomes; a single failing portfolio never aborts the others.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Scope       string     `json:"scope"` // "all" or a portfolio id
	RunDate     string     `json:"run_date"`
	Granularity string     `json:"granularity"`
	Status      Status     `json:"status"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Failures    []Failure  `json:"failures"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter narrows run queries
type Filter struct {
	Status      Status
	Kind        string
	PortfolioID string // Matches scope
	From        string // Run date lower bound, inclusive
	To          string // Run date upper bound, inclusive
	Limit       int
}
