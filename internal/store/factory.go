package store

import (
	"context"
	"fmt"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

// NewStoreFromConfig creates a ContentStore based on the store config type.
// S3 credentials come from the default AWS credential chain.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (arc.ContentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem store")
		}
		return orNil(NewFileSystemStore(cfg.FSRoot))
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3_bucket required for s3 store")
		}
		return orNil(NewS3Store(ctx, S3StoreConfig{
			Bucket:    cfg.S3Bucket,
			KeyPrefix: cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
		}))
	case "badger":
		if cfg.BadgerDir == "" {
			return nil, fmt.Errorf("badger_dir required for badger store")
		}
		return orNil(NewBadgerStore(cfg.BadgerDir))
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite_path required for sqlite store")
		}
		return orNil(NewSQLiteStore(cfg.SQLitePath))
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// orNil keeps a failed constructor from returning a typed nil store.
func orNil[S arc.ContentStore](s S, err error) (arc.ContentStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
