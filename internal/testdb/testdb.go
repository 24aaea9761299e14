// Package testdb opens a migrated SQLite database for tests.
package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"checkout-service/internal/repository"
	"checkout-service/migrations"
)

// Open returns a fresh database in t.TempDir(). A single connection runs
// transactions one after another, so goroutines racing through the services
// see each other's commits but never interleave inside a transaction. Tests
// that need an interleaving inject it on the transaction itself.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkout.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_time_format=sqlite", path)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.AutoMigrate(context.Background(), db, 0))
	return db
}

// Store wraps Open in a repository.Store.
func Store(t testing.TB) *repository.Store {
	t.Helper()
	return repository.NewStore(Open(t), nil)
}
