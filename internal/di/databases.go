package di

import (
	"fmt"

	"github.com/aristath/fundfolio/internal/config"
	"github.com/aristath/fundfolio/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	// 1. prices.db - Refetchable price cache
	pricesDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(database.NamePrices),
		Profile: database.ProfileCache,
		Name:    database.NamePrices,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prices database: %w", err)
	}
	container.PricesDB = pricesDB

	// 2. users.db - Bot users, risk profiles and saved portfolios
	usersDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(database.NameUsers),
		Profile: database.ProfileDurable,
		Name:    database.NameUsers,
	})
	if err != nil {
		pricesDB.Close()
		return nil, fmt.Errorf("failed to initialize users database: %w", err)
	}
	container.UsersDB = usersDB

	for _, db := range []*database.DB{pricesDB, usersDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("All databases initialized and schemas applied")

	return container, nil
}
