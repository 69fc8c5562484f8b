package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MetaVersion is the metadata key holding the version of the binary that
// last wrote to the database.
const MetaVersion = "asana2sql_version"

// GetMetadata returns the value stored under key, or "" when unset.
func (db *DB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key.
func (db *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", key, err)
	}
	return nil
}
