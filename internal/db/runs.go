package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one recorded sync pass.
type Run struct {
	ID         string
	ProjectID  int64
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Fetched    int
	Upserted   int
	Deleted    int
	Status     string
	Error      string
}

// StartRun records the start of a pass and returns its id.
func (db *DB) StartRun(ctx context.Context, projectID int64, mode string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (id, project_id, mode, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, id, projectID, mode, time.Now().UTC().Format(time.RFC3339Nano), RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a pass. A nil runErr marks it succeeded.
func (db *DB) FinishRun(ctx context.Context, id string, fetched, upserted, deleted int, runErr error) error {
	status := RunSucceeded
	var errText sql.NullString
	if runErr != nil {
		status = RunFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_runs
		SET finished_at = ?, fetched = ?, upserted = ?, deleted = ?, status = ?, error = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), fetched, upserted, deleted, status, errText, id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a project, newest first.
// A projectID of 0 lists runs of every project.
func (db *DB) ListRuns(ctx context.Context, projectID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, project_id, mode, started_at, finished_at, fetched, upserted, deleted, status, error
		FROM sync_runs`
	args := []any{}
	if projectID != 0 {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                  Run
			started            string
			finished, errorMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Mode, &started, &finished,
			&r.Fetched, &r.Upserted, &r.Deleted, &r.Status, &errorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		r.Error = errorMsg.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
