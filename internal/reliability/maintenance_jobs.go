package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	maintenanceTimeout = 5 * time.Minute
	backupTimeout      = 30 * time.Minute

	// Below this much free space on the data volume maintenance fails.
	minFreeDiskBytes = 500 * 1024 * 1024
)

// DailyMaintenanceJob checks every database, truncates WAL files and
// verifies free disk space on the data volume.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	diskFree  func(path string) (uint64, error)
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		diskFree:  freeBytes,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database %s failed health check: %w", name, err)
		}

		if err := db.WALCheckpoint(ctx); err != nil {
			// Retried tomorrow; readers are unaffected
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}

		if stats, err := db.GetStats(ctx); err == nil {
			j.log.Info().
				Str("database", name).
				Int64("size_bytes", stats.SizeBytes).
				Int64("wal_bytes", stats.WALSizeBytes).
				Int64("free_pages", stats.FreelistCount).
				Msg("Database size")
		}
	}

	free, err := j.diskFree(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if free < minFreeDiskBytes {
		j.log.Error().Uint64("free_bytes", free).Msg("Insufficient disk space on data volume")
		return fmt.Errorf("only %d MB free on data volume", free/1024/1024)
	}

	j.log.Info().
		Dur("duration", time.Since(startTime)).
		Uint64("free_mb", free/1024/1024).
		Msg("Daily maintenance completed")
	return nil
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// R2BackupJob uploads a backup and rotates old ones.
type R2BackupJob struct {
	service       *R2BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewR2BackupJob creates a new backup job
func NewR2BackupJob(service *R2BackupService, retentionDays int, log zerolog.Logger) *R2BackupJob {
	return &R2BackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "r2_backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *R2BackupJob) Name() string {
	return "r2_backup"
}

// Run executes the backup job. A failed rotation is logged, not returned.
func (j *R2BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
