// Package sqlstore reads raw samples and device assignments from a SQL
// database. PostgreSQL and SQLite are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// Dialect identifies the SQL flavour.
type Dialect string

// Supported dialects. The values are the database/sql driver names.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DB wraps a connection with its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects and pings the database.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d := Dialect(driver)
	if d != Postgres && d != SQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == SQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{DB: db, dialect: d}, nil
}

// New wraps an existing connection.
func New(db *sql.DB, d Dialect) *DB {
	return &DB{DB: db, dialect: d}
}

// Dialect returns the SQL flavour.
func (db *DB) Dialect() Dialect { return db.dialect }

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS raw_samples (
		device_id TEXT NOT NULL,
		ts_ms BIGINT NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS raw_samples_device_ts ON raw_samples (device_id, ts_ms)`,
	`CREATE TABLE IF NOT EXISTS device_assignments (
		device_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		assigned_at_ms BIGINT NOT NULL,
		released_at_ms BIGINT,
		status TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS device_assignments_device ON device_assignments (device_id, assigned_at_ms)`,
	// at most one open assignment per device
	`CREATE UNIQUE INDEX IF NOT EXISTS device_assignments_open ON device_assignments (device_id) WHERE released_at_ms IS NULL`,
}

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
