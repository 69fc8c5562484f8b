package db

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// testDB opens a fresh SQLite database in a temp directory.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen_Success tests database creation in a nested directory
func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := Open(Config{DSN: path})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Driver() != DriverSQLite {
		t.Errorf("driver = %q, want %q", db.Driver(), DriverSQLite)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty dsn")
	}
	if _, err := Open(Config{Driver: "postgres", DSN: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.InitSchema(); err != nil {
		t.Fatalf("First InitSchema() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}

	exists, err := db.TableExists(context.Background(), "sync_runs")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if !exists {
		t.Error("sync_runs table does not exist")
	}
}

func TestWrapper_ReadWrite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	w := NewWrapper(db.RawDB(), WrapperOptions{})

	if err := w.Write(ctx, `CREATE TABLE "users" ("id" INTEGER PRIMARY KEY, "name" VARCHAR(1024))`); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := w.Write(ctx, `INSERT OR REPLACE INTO "users" ("id", "name") VALUES (?, ?)`, int64(1), "Ada"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	rows, err := w.Read(ctx, `SELECT "id", "name" FROM "users"`)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["id"] != int64(1) || rows[0]["name"] != "Ada" {
		t.Errorf("row = %v", rows[0])
	}

	if w.Reads() != 1 || w.Writes() != 2 || w.Executed() != 3 {
		t.Errorf("counters = %d/%d/%d, want 1/2/3", w.Reads(), w.Writes(), w.Executed())
	}
}

func TestWrapper_DryRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	var out bytes.Buffer
	w := NewWrapper(db.RawDB(), WrapperOptions{DumpSQL: true, Dry: true, Out: &out})

	if err := w.Write(ctx, `CREATE TABLE "t" ("id" INTEGER)`); err != nil {
		t.Fatalf("dry write failed: %v", err)
	}
	if _, err := w.Read(ctx, `SELECT name FROM sqlite_master WHERE name = ?`, "t"); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	exists, err := db.TableExists(ctx, "t")
	if err != nil {
		t.Fatalf("TableExists() failed: %v", err)
	}
	if exists {
		t.Error("dry run executed a write")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("dumped %d lines, want 2: %q", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "# CREATE TABLE") {
		t.Errorf("dry write line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "SELECT name") || !strings.Contains(lines[1], `("t")`) {
		t.Errorf("read line = %q", lines[1])
	}
	if w.Writes() != 1 || w.Executed() != 1 {
		t.Errorf("writes = %d, executed = %d; want 1, 1", w.Writes(), w.Executed())
	}
}

func TestWrapper_StoreError(t *testing.T) {
	db := testDB(t)
	w := NewWrapper(db.RawDB(), WrapperOptions{})

	err := w.Write(context.Background(), `INSERT INTO "missing" VALUES (1)`)
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "write" {
		t.Errorf("expected write StoreError, got %#v", err)
	}
}

func TestRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	id, err := db.StartRun(ctx, 42, "synchronize")
	if err != nil {
		t.Fatalf("StartRun() failed: %v", err)
	}
	if err := db.FinishRun(ctx, id, 3, 3, 1, nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}
	failed, err := db.StartRun(ctx, 42, "export")
	if err != nil {
		t.Fatalf("StartRun() failed: %v", err)
	}
	if err := db.FinishRun(ctx, failed, 0, 0, 0, errors.New("boom")); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	runs, err := db.ListRuns(ctx, 42, 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	byID := map[string]Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	if r := byID[id]; r.Status != RunSucceeded || r.Deleted != 1 || r.FinishedAt == nil {
		t.Errorf("successful run = %+v", r)
	}
	if r := byID[failed]; r.Status != RunFailed || r.Error != "boom" {
		t.Errorf("failed run = %+v", r)
	}

	other, err := db.ListRuns(ctx, 7, 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("got %d runs for other project", len(other))
	}
}

func TestMetadata(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	got, err := db.GetMetadata(ctx, MetaVersion)
	if err != nil || got != "" {
		t.Fatalf("GetMetadata() on empty = %q, %v", got, err)
	}
	for _, v := range []string{"v0.1.0", "v0.2.0"} {
		if err := db.SetMetadata(ctx, MetaVersion, v); err != nil {
			t.Fatalf("SetMetadata(%q) failed: %v", v, err)
		}
	}
	if got, _ := db.GetMetadata(ctx, MetaVersion); got != "v0.2.0" {
		t.Errorf("GetMetadata() = %q, want v0.2.0", got)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.OnRead(`SELECT "id"`, Row{"id": int64(1)})

	rows, _ := r.Read(ctx, `SELECT "id" FROM "t";`)
	if len(rows) != 1 {
		t.Errorf("got %d rows", len(rows))
	}
	_ = r.Write(ctx, `DELETE FROM "t" WHERE "id" = ?;`, int64(1))
	if got := len(r.WritesMatching("DELETE")); got != 1 {
		t.Errorf("deletes = %d", got)
	}

	r.FailWrites(errors.New("disk full"))
	if err := r.Write(ctx, `INSERT`); !errors.Is(err, ErrStore) {
		t.Errorf("expected ErrStore, got %v", err)
	}
}
