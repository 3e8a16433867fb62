// Package storage provides the durable storage layer: the vote graph the
// stamp engine is derived from and the question/answer bookkeeping the
// reply gate toggles.
//
// It runs on database/sql with two interchangeable drivers — pgx for
// Postgres deployments and modernc sqlite for single-node ones — so the
// SQL sticks to the portable subset (ON CONFLICT upserts, RETURNING,
// CURRENT_TIMESTAMP).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	_ "modernc.org/sqlite"             // database/sql driver "sqlite"
)

// DB wraps the sql pool together with the selected driver.
type DB struct {
	sql    *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects using the named driver ("postgres" or "sqlite") and pings.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*DB, error) {
	var (
		pool *sql.DB
		err  error
	)
	switch driver {
	case "postgres":
		pool, err = sql.Open("pgx", dsn)
	case "sqlite":
		pool, err = sql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// Single writer; database/sql would otherwise open competing
		// connections and trip SQLITE_BUSY under load.
		pool.SetMaxOpenConns(1)
		if _, err := pool.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: enable foreign keys: %w", err)
		}
	}

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &DB{sql: pool, driver: driver, logger: logger}, nil
}

// Driver returns the active driver name.
func (db *DB) Driver() string { return db.driver }

// Close closes the underlying pool.
func (db *DB) Close() error { return db.sql.Close() }
