package db

import (
	"context"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsTableName = "sandbox_migrations"

// MigrationFS exposes the embedded migration files so test helpers can apply
// the schema without going through a DSN round trip.
func MigrationFS() embed.FS {
	return migrationFiles
}

// Migrate runs the embedded schema migrations against the given database URL.
// count=0 applies everything in the given direction.
func Migrate(dbURL string, dir migrate.MigrationDirection, count int) (int, error) {
	dbConnectionPool, err := OpenDBConnectionPool(dbURL)
	if err != nil {
		return 0, fmt.Errorf("opening database %q: %w", dbURL, err)
	}
	defer dbConnectionPool.Close()

	ms := migrate.MigrationSet{
		TableName: migrationsTableName,
	}

	// The embed root holds the migrations/ directory itself, so the source
	// needs Root to descend into it.
	m := migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFiles, Root: "migrations"}
	ctx := context.Background()
	sqlDB, err := dbConnectionPool.SqlDB(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching sql.DB: %w", err)
	}
	// sql-migrate knows the dialect as "sqlite3" even though the modernc
	// driver registers itself as "sqlite".
	return ms.ExecMax(sqlDB, "sqlite3", m, dir, count)
}
