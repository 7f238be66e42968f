package database

import (
	"fmt"
	"os"
	"path/filepath"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

// NewDatabaseFromConfig creates the operation history based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, clock arc.Clock) (arc.History, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return open(filepath.Join(cfg.DataDir, hostID+".db"), clock)
	case "memory":
		return open(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func open(path string, clock arc.Clock) (arc.History, error) {
	db, err := NewSQLiteDatabase(path, clock)
	if err != nil {
		return nil, err
	}
	return db, nil
}
