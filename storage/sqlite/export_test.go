package sqlite

import (
	"context"
	"database/sql"
)

// RunMigrate runs migration on a database (exported for testing).
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}

// RunMigrateV1 runs v1 migration on a database (exported for testing).
func RunMigrateV1(ctx context.Context, db *sql.DB) error {
	return migrateV1(ctx, db)
}

// NewFromDB creates a store from an existing db connection (exported for testing).
func NewFromDB(db *sql.DB) (*Store, error) {
	return newFromDB(db, defaultConfig())
}

// SetDBOpener replaces the function used to open databases and returns a
// func restoring the previous one.
func SetDBOpener(opener func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	prev := dbOpener
	dbOpener = opener
	return func() { dbOpener = prev }
}
