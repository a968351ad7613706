package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
)

// SnapshotJob computes the end-of-day snapshots for every portfolio. Daily
// snapshots run every trigger; weekly snapshots additionally on Fridays and
// monthly snapshots on the last day of the month.
type SnapshotJob struct {
	aggregator *snapshots.AggregatorService
	timeout    time.Duration
	log        zerolog.Logger
}

// NewSnapshotJob creates a new snapshot job
func NewSnapshotJob(aggregator *snapshots.AggregatorService, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		aggregator: aggregator,
		timeout:    30 * time.Minute,
		log:        log.With().Str("job", "snapshots").Logger(),
	}
}

// Run executes the snapshot job
func (j *SnapshotJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	now := time.Now()
	date := domain.FormatDate(now)

	granularities := []domain.Granularity{domain.GranularityDaily}
	if now.Weekday() == time.Friday {
		granularities = append(granularities, domain.GranularityWeekly)
	}
	if isLastDayOfMonth(now) {
		granularities = append(granularities, domain.GranularityMonthly)
	}

	for _, granularity := range granularities {
		run, err := j.aggregator.RunSnapshots(ctx, date, granularity, "all")
		if errors.Is(err, domain.ErrConflict) {
			j.log.Warn().
				Str("date", date).
				Str("granularity", string(granularity)).
				Msg("Snapshot run already active, skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("snapshot run %s/%s failed: %w", date, granularity, err)
		}
		if run.Failed > 0 {
			j.log.Warn().
				Str("run_id", run.ID).
				Int("failed", run.Failed).
				Int("succeeded", run.Succeeded).
				Str("granularity", string(granularity)).
				Msg("Snapshot run finished with failures")
		}
	}
	return nil
}

// Name returns the job name for the scheduler
func (j *SnapshotJob) Name() string {
	return "snapshots"
}

func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}
