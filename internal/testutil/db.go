package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ezhao/courtqueue/internal/db"
)

// NewTestDB creates a temporary SQLite database with migrations applied.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// NewTestDBWithCourts creates a test database seeded with the given courts.
func NewTestDBWithCourts(t *testing.T, names ...string) *db.DB {
	t.Helper()

	database := NewTestDB(t)
	if len(names) == 0 {
		names = []string{"Court 1", "Court 2", "Court 3"}
	}
	if err := database.SeedCourts(context.Background(), names); err != nil {
		t.Fatalf("seed courts: %v", err)
	}
	return database
}
