package di

import (
	"fmt"
	"time"

	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/aristath/fundfolio/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the background jobs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	from, err := time.Parse("2006-01-02", cfg.MOEX.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid MOEX start date: %w", err)
	}

	jobs := &JobInstances{
		RefreshPrices: scheduler.NewRefreshPricesJob(
			container.Reference,
			container.MOEXClient,
			container.PriceCache,
			container.Validator,
			scheduler.RefreshConfig{
				From:        from,
				Concurrency: cfg.FetchConcurrency,
			},
			container.Registry,
			log,
		),
		Maintenance: reliability.NewDailyMaintenanceJob(container.Databases(), cfg.DataDir, log),
	}
	if container.BackupService != nil {
		jobs.Backup = reliability.NewR2BackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
	}

	log.Info().Bool("backup", jobs.Backup != nil).Msg("Jobs registered")
	return jobs, nil
}

// ScheduleJobs adds every job to the scheduler on its configured schedule.
func ScheduleJobs(s *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	entries := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.RefreshSchedule, jobs.RefreshPrices},
		{cfg.MaintenanceSchedule, jobs.Maintenance},
	}
	if jobs.Backup != nil {
		entries = append(entries, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, jobs.Backup})
	}

	for _, e := range entries {
		if err := s.AddJob(e.schedule, e.job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", e.job.Name(), err)
		}
	}
	return nil
}
