// Package db provides the relational store the mirror writes into.
//
// A DB owns the SQL connection. Two drivers are supported:
//   - sqlite: embedded SQLite (ncruces/go-sqlite3, WASM build, no cgo) with WAL
//   - libsql: go-libsql, for local libSQL files or remote Turso databases
//
// Reconciliation code never sees *sql.DB directly. It talks to a Store, a
// read/write capability that the Wrapper implements on top of a DB (adding
// SQL dumping, dry runs and statement counters).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Supported driver names.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// Config selects and configures the database connection.
type Config struct {
	// Driver is DriverSQLite (default) or DriverLibSQL.
	Driver string
	// DSN is a file path for sqlite, or a file path / libsql:// URL for libsql.
	DSN string
}

// DB wraps the SQL connection.
type DB struct {
	conn   *sql.DB
	driver string
	dsn    string
}

// Open opens the database described by cfg.
//
// For file-backed databases the parent directory is created. SQLite
// connections run in WAL mode with a busy timeout.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(db.Config{DSN: "asana.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("failed to open database: empty dsn")
	}

	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case DriverSQLite:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		conn, err = sql.Open("sqlite3", "file:"+cfg.DSN)
	case DriverLibSQL:
		if isLocalPath(cfg.DSN) {
			if err := ensureDir(cfg.DSN); err != nil {
				return nil, err
			}
		}
		conn, err = openLibSQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, driver: driver, dsn: cfg.DSN}

	if driver == DriverSQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return db, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func isLocalPath(dsn string) bool {
	return !strings.Contains(dsn, "://")
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Driver returns the driver name the connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection, checkpointing the WAL first for
// SQLite databases.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.driver == DriverSQLite {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the bookkeeping tables owned by this package.
// Mirror tables are created by the workspace and project packages.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the bookkeeping tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		project_id INTEGER NOT NULL,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		fetched INTEGER NOT NULL DEFAULT 0,
		upserted INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_project ON sync_runs(project_id, started_at);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// CountRows returns the number of rows in table. The name is quoted.
func (db *DB) CountRows(ctx context.Context, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(table))
	if err := db.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

// TableExists reports whether a table with the given name exists.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	return count == 1, nil
}

// QuoteIdent renders name as a double-quoted SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
