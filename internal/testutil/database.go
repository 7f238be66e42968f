package testutil

import (
	"testing"

	"arc-go/internal/arc"
	"arc-go/internal/database"
)

// NewTestDatabase creates an in-memory operation history with migrations
// applied. The database is closed when the test completes.
func NewTestDatabase(t *testing.T, clock arc.Clock) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
