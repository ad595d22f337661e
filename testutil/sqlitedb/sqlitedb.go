// Package sqlitedb opens throwaway SQLite databases for tests.
package sqlitedb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // driver registration
)

// Open creates a SQLite database in a temporary directory that is removed after the test.
// The pool is limited to one connection, so every statement inside a transaction must use that transaction.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("opening sqlite database failed: %v", err)
	}

	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
