package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
)

// OpenTestDB connects to the database named by the PG* environment variables, applies the
// schema and truncates all tables. The test is skipped when no database is reachable.
func OpenTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)

	ctx := context.Background()
	db, err := Open(ctx, dsn, Options{MaxOpenConns: 16})
	if err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		"TRUNCATE TABLE events, transaction_notices, transactions, books, credentials, users CASCADE"); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
