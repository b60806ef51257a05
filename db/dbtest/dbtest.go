package dbtest

import (
	"path/filepath"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

// Open creates a throwaway sqlite database under t.TempDir with all
// migrations applied and returns an open connection pool. The pool is closed
// when the test finishes.
func Open(t *testing.T) db.DBConnectionPool {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "sandbox-test.db")
	dbConnectionPool, err := db.OpenDBConnectionPool(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { dbConnectionPool.Close() })

	ms := migrate.MigrationSet{TableName: "sandbox_migrations"}
	m := migrate.EmbedFileSystemMigrationSource{FileSystem: db.MigrationFS(), Root: "migrations"}
	sqlDB, err := dbConnectionPool.SqlDB(t.Context())
	require.NoError(t, err)
	_, err = ms.ExecMax(sqlDB, "sqlite3", m, migrate.Up, 0)
	require.NoError(t, err)

	return dbConnectionPool
}
