// Package database opens the SQL backends used by the report and audit
// stores and applies their embedded schemas.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names as registered with database/sql.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

//go:embed schema/*.sql
var schemas embed.FS

// Config selects and tunes a database connection.
type Config struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Open connects to the configured database and verifies it answers.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; modernc serializes access per connection
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

// Migrate applies the embedded schema for driver. Every statement is
// idempotent, so it is safe to run on each start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	name := "schema/postgres.sql"
	if driver == DriverSQLite {
		name = "schema/sqlite.sql"
	}
	raw, err := schemas.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range Statements(string(raw)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Statements splits a schema file on semicolons, dropping empty statements.
func Statements(schema string) []string {
	var out []string
	for _, part := range strings.Split(schema, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Health checks that db still answers.
func Health(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	return nil
}
