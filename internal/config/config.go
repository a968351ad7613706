// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	// SnapshotCron is the cron expression for the daily snapshot run.
	SnapshotCron string

	// StaleRunThreshold is how long a run may stay in_progress before the
	// reaper reclassifies it as failed.
	StaleRunThreshold time.Duration

	// CarryForwardDays is how many calendar days a stale price may be
	// carried forward when the snapshot date has no quote. Beyond that the
	// asset is excluded from the snapshot with a recorded gap.
	CarryForwardDays int

	// VolatilityWindow is the trailing number of daily returns used for
	// the volatility calculation.
	VolatilityWindow int

	// SnapshotWorkers bounds the per-portfolio parallelism of bulk runs.
	SnapshotWorkers int

	Backup *BackupConfig
}

// BackupConfig holds S3/R2 database backup configuration
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // Custom endpoint for R2 or S3-compatible stores
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Cron      string // Backup schedule
	Keep      int    // Number of backups to retain
}

// Load reads configuration from environment variables (.env file optional)
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("FOLIO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("FOLIO_PORT", 8080),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		SnapshotCron:      getEnv("SNAPSHOT_CRON", "30 22 * * *"),
		StaleRunThreshold: time.Duration(getEnvAsInt("STALE_RUN_MINUTES", 30)) * time.Minute,
		CarryForwardDays:  getEnvAsInt("PRICE_CARRY_FORWARD_DAYS", 7),
		VolatilityWindow:  getEnvAsInt("VOLATILITY_WINDOW", 30),
		SnapshotWorkers:   getEnvAsInt("SNAPSHOT_WORKERS", 4),
		Backup:            loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.VolatilityWindow < 2 {
		return fmt.Errorf("volatility window must be at least 2, got %d", c.VolatilityWindow)
	}
	if c.SnapshotWorkers < 1 {
		return fmt.Errorf("snapshot workers must be at least 1, got %d", c.SnapshotWorkers)
	}
	if c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("backup enabled but BACKUP_BUCKET is empty")
		}
		if c.Backup.AccessKey == "" || c.Backup.SecretKey == "" {
			return fmt.Errorf("backup enabled but credentials are missing")
		}
	}
	return nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
		Region:    getEnv("BACKUP_REGION", "auto"),
		Bucket:    getEnv("BACKUP_BUCKET", ""),
		AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
		Cron:      getEnv("BACKUP_CRON", "0 3 * * *"),
		Keep:      getEnvAsInt("BACKUP_KEEP", 7),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
