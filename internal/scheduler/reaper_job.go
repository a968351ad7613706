package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/runs"
)

// StaleRunReaperJob marks runs stuck in a non-terminal status past a
// threshold as failed, so a crashed run can never block future triggers.
type StaleRunReaperJob struct {
	runRepo   *runs.Repository
	threshold time.Duration
	log       zerolog.Logger
}

// NewStaleRunReaperJob creates a new stale run reaper
func NewStaleRunReaperJob(runRepo *runs.Repository, threshold time.Duration, log zerolog.Logger) *StaleRunReaperJob {
	return &StaleRunReaperJob{
		runRepo:   runRepo,
		threshold: threshold,
		log:       log.With().Str("job", "stale_run_reaper").Logger(),
	}
}

// Run executes the reaper
func (j *StaleRunReaperJob) Run() error {
	reaped, err := j.runRepo.ReapStale(j.threshold)
	if err != nil {
		return err
	}
	if reaped > 0 {
		j.log.Warn().Int64("reaped", reaped).Msg("Marked stale runs as failed")
	}
	return nil
}

// Name returns the job name for the scheduler
func (j *StaleRunReaperJob) Name() string {
	return "stale_run_reaper"
}
