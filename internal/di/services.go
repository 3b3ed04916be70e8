package di

import (
	"context"
	"fmt"

	"github.com/aristath/fundfolio/internal/clients/moex"
	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/aristath/fundfolio/internal/modules/universe"
	"github.com/aristath/fundfolio/internal/modules/users"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// InitializeServices creates repositories, clients and services
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	container.Registry = reg

	reference, err := universe.LoadReferenceTable(cfg.ReferencePath)
	if err != nil {
		return fmt.Errorf("failed to load reference table: %w", err)
	}
	container.Reference = reference
	log.Info().
		Int("instruments", reference.Len()).
		Int("fetched", len(reference.FetchUniverse())).
		Msg("Reference table loaded")

	container.PriceCache = prices.NewCache(container.PricesDB, log)
	container.UserRepo = users.NewRepository(container.UsersDB.Conn(), log)
	container.Validator = prices.NewValidator(log)

	container.MOEXClient = moex.NewClient(moex.Config{
		BaseURL: cfg.MOEX.BaseURL,
		Board:   cfg.MOEX.Board,
		RPS:     cfg.MOEX.RPS,
		Timeout: cfg.MOEX.Timeout,
	}, nil, log)

	container.OptimizationService = optimization.NewService(
		container.PriceCache,
		container.Reference,
		OptimizationConfig(cfg),
		optimization.NewMetrics(reg),
		log,
	)
	container.ChartService = charts.NewService(container.PriceCache, log)

	if cfg.BackupEnabled() {
		client, err := reliability.NewR2Client(ctx, reliability.R2Config{
			Bucket:    cfg.Backup.Bucket,
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
			Prefix:    cfg.Backup.Prefix,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.BackupService = reliability.NewR2BackupService(client, container.Databases(), cfg.DataDir, log)
	}

	log.Info().Bool("backups", cfg.BackupEnabled()).Msg("Services initialized")
	return nil
}

// OptimizationConfig maps the optimizer settings onto the model constants.
func OptimizationConfig(cfg *config.Config) optimization.Config {
	o := cfg.Optimizer
	return optimization.Config{
		RiskAversion: o.RiskAversion,
		Tau:          o.Tau,
		RiskFreeRate: o.RiskFreeRate,
		Clean: optimization.CleanOptions{
			Cutoff:   o.WeightCutoff,
			Decimals: o.WeightDecimals,
		},
		StatDecimals: o.StatDecimals,
	}
}
