// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/fundfolio/internal/clients/moex"
	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/modules/charts"
	"github.com/aristath/fundfolio/internal/modules/optimization"
	"github.com/aristath/fundfolio/internal/modules/prices"
	"github.com/aristath/fundfolio/internal/modules/universe"
	"github.com/aristath/fundfolio/internal/modules/users"
	"github.com/aristath/fundfolio/internal/reliability"
	"github.com/aristath/fundfolio/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all dependencies for the application. It is created by
// Wire and is the single source of truth for service instances.
type Container struct {
	Config *config.Config

	// Databases
	PricesDB *database.DB
	UsersDB  *database.DB

	// Metrics
	Registry *prometheus.Registry

	// Clients
	MOEXClient *moex.Client

	// Repositories
	Reference  *universe.ReferenceTable
	PriceCache *prices.Cache
	UserRepo   *users.Repository

	// Services
	Validator           *prices.Validator
	OptimizationService *optimization.Service
	ChartService        *charts.Service
	BackupService       *reliability.R2BackupService // nil when backups are disabled
}

// JobInstances holds the scheduled jobs. Backup is nil when backups are
// disabled.
type JobInstances struct {
	RefreshPrices *scheduler.RefreshPricesJob
	Maintenance   *reliability.DailyMaintenanceJob
	Backup        *reliability.R2BackupJob
}

// Databases returns every open database keyed by name.
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.PricesDB != nil {
		dbs[c.PricesDB.Name()] = c.PricesDB
	}
	if c.UsersDB != nil {
		dbs[c.UsersDB.Name()] = c.UsersDB
	}
	return dbs
}

// Close closes every database.
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.PricesDB, c.UsersDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
