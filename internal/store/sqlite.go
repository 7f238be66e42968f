package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arc-go/internal/arc"
	"arc-go/internal/database"
	"arc-go/internal/database/migrations"
)

// SQLiteStore keeps objects as rows of the objects table. Text keys compare
// bytewise, so a folder listing is a key range scan.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path and applies
// pending migrations. path can be ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := database.OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM objects WHERE key = ?", key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM objects WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (key, data, size, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, size = excluded.size, updated_at = excluded.updated_at`,
		key, data, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// keyRange returns the half-open range [lo, hi) holding every key under a
// folder prefix ending in "/".
func keyRange(prefix string) (string, string) {
	return prefix, prefix[:len(prefix)-1] + "0"
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = folderPrefix(prefix)

	var rows *sql.Rows
	var err error
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT key FROM objects ORDER BY key")
	} else {
		lo, hi := keyRange(prefix)
		rows, err = s.db.QueryContext(ctx, "SELECT key FROM objects WHERE key >= ? AND key < ? ORDER BY key", lo, hi)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *SQLiteStore) Copy(ctx context.Context, src, dst string) error {
	if err := validKey(dst); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (key, data, size, updated_at) SELECT ?, data, size, ? FROM objects WHERE key = ?
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, size = excluded.size, updated_at = excluded.updated_at`,
		dst, time.Now().UTC(), src)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(src)
	}
	return nil
}

func (s *SQLiteStore) DeleteFolder(ctx context.Context, prefix string) error {
	prefix, err := deletablePrefix(prefix)
	if err != nil {
		return err
	}
	lo, hi := keyRange(prefix)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE key >= ? AND key < ?", lo, hi); err != nil {
		return fmt.Errorf("delete folder %s: %w", prefix, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ arc.ContentStore = (*SQLiteStore)(nil)
