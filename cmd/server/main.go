// Command server runs the position ledger and snapshot aggregation engine:
// HTTP API, cron-driven snapshot runs, and optional cloud backups.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folioledger/folioledger/internal/config"
	"github.com/folioledger/folioledger/internal/di"
	"github.com/folioledger/folioledger/internal/scheduler"
	"github.com/folioledger/folioledger/internal/server"
	"github.com/folioledger/folioledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting folioledger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize container")
	}
	defer container.Close()

	// Recover runs orphaned by an unclean shutdown before accepting work
	if reaped, err := container.RunRepo.ReapStale(cfg.StaleRunThreshold); err != nil {
		log.Error().Err(err).Msg("Failed to reap stale runs")
	} else if reaped > 0 {
		log.Warn().Int64("reaped", reaped).Msg("Marked runs from previous process as failed")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.SnapshotCron, scheduler.NewSnapshotJob(container.Aggregator, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register snapshot job")
	}
	if err := sched.AddJob("*/10 * * * *", scheduler.NewStaleRunReaperJob(container.RunRepo, cfg.StaleRunThreshold, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reaper job")
	}
	if container.BackupService != nil {
		if err := sched.AddJob(cfg.Backup.Cron, scheduler.NewBackupJob(container.BackupService, cfg.Backup.Keep, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(container)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
