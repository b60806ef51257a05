package db_test

import (
	"context"
	"path/filepath"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
)

func embeddedMigrationCount(t *testing.T) int {
	t.Helper()
	entries, err := db.MigrationFS().ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return len(entries)
}

func Test_Migrate_appliesEveryEmbeddedFile(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "migrate-test.db")

	applied, err := db.Migrate(dsn, migrate.Up, 0)
	require.NoError(t, err)
	assert.Equal(t, embeddedMigrationCount(t), applied)

	// the schema is actually usable afterwards
	dbConnectionPool, err := db.OpenDBConnectionPool(dsn)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	var count int
	err = dbConnectionPool.GetContext(context.Background(), &count, "SELECT COUNT(*) FROM businesses")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func Test_Open_appliesEveryEmbeddedFile(t *testing.T) {
	dbConnectionPool := dbtest.Open(t)

	var ids []string
	err := dbConnectionPool.SelectContext(t.Context(), &ids, "SELECT id FROM sandbox_migrations")
	require.NoError(t, err)
	assert.Len(t, ids, embeddedMigrationCount(t))
}
