package testutil

import (
	"context"
	"testing"

	"wikid/internal/database"
	"wikid/internal/database/migrations"
)

// NewTestStore creates a new in-memory SQLite store with schema applied
// and reserved roles seeded. The store is automatically closed when the
// test completes.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	store := database.NewStoreFromDB(sqlDB)
	if err := store.EnsureReservedRoles(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to seed reserved roles: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
