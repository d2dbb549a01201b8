// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/hiennguyen9874/api-base-project/internal/db/bunx"
	"github.com/hiennguyen9874/api-base-project/internal/migrations"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// NewSQLite returns an in-memory SQLite database with every migration applied.
// The database is closed when the test finishes.
func NewSQLite(t *testing.T) *bun.DB {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}
