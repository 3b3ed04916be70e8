// Package testing provides test helpers shared across packages.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/fundfolio/internal/database"
)

// NewTestDB creates a migrated SQLite database in a temporary directory.
// The database is closed when the test finishes.
//
// Names with an embedded schema ("prices", "users") are migrated; any other
// name yields an empty database.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	if name == database.NamePrices {
		profile = database.ProfileCache
	}
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}
