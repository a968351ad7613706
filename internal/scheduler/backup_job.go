package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/reliability"
)

// BackupJob uploads a database backup and prunes old archives
type BackupJob struct {
	backups *reliability.BackupService
	keep    int
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backups *reliability.BackupService, keep int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backups: backups,
		keep:    keep,
		timeout: 15 * time.Minute,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.backups.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.backups.Rotate(ctx, j.keep)
}

// Name returns the job name for the scheduler
func (j *BackupJob) Name() string {
	return "backup"
}
