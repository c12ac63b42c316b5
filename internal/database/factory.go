package database

import (
	"fmt"
	"path/filepath"

	"wikid/internal/config"
	"wikid/internal/database/migrations"
	"wikid/internal/wiki"
)

// NewStoreFromConfig creates a Store based on the database config type and
// brings its schema up to date.
func NewStoreFromConfig(cfg config.DatabaseConfig) (wiki.Store, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, "wikid.db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	store, err := NewStore(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(store.DB()); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return store, nil
}
