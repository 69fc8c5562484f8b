package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Store executes parameterized statements. Queries use double-quoted
// identifiers and ? placeholders.
type Store interface {
	// Read runs a query and returns every result row.
	Read(ctx context.Context, query string, args ...any) ([]Row, error)
	// Write runs a statement that returns no rows.
	Write(ctx context.Context, query string, args ...any) error
}

// ErrStore matches every *StoreError with errors.Is.
var ErrStore = errors.New("store error")

// StoreError is a failed read or write.
type StoreError struct {
	Op    string // "read" or "write"
	Query string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v (query: %s)", e.Op, e.Err, e.Query)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WrapperOptions configures a Wrapper.
type WrapperOptions struct {
	// DumpSQL prints every statement and its arguments to Out.
	DumpSQL bool
	// Dry skips writes. Reads still run. Dumped writes are prefixed "# ".
	Dry bool
	// Out receives dumped SQL (nil = io.Discard).
	Out io.Writer
	// Logger receives debug statement logs (nil = slog.Default()).
	Logger *slog.Logger
}

// Wrapper is the Store used by the mirror. It is safe for concurrent use if
// the underlying Querier is.
type Wrapper struct {
	q      Querier
	dump   bool
	dry    bool
	out    io.Writer
	logger *slog.Logger

	reads    atomic.Int64
	writes   atomic.Int64
	executed atomic.Int64
}

// NewWrapper creates a Wrapper over q.
func NewWrapper(q Querier, opts WrapperOptions) *Wrapper {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		q:      q,
		dump:   opts.DumpSQL,
		dry:    opts.Dry,
		out:    out,
		logger: logger.With("component", "store"),
	}
}

// Read implements Store.
func (w *Wrapper) Read(ctx context.Context, query string, args ...any) ([]Row, error) {
	w.reads.Add(1)
	if w.dump {
		fmt.Fprintln(w.out, formatStatement(query, args))
	}

	w.executed.Add(1)
	rows, err := w.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "read", Query: query, Err: err}
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, &StoreError{Op: "read", Query: query, Err: err}
	}
	return result, nil
}

// Write implements Store.
func (w *Wrapper) Write(ctx context.Context, query string, args ...any) error {
	w.writes.Add(1)
	if w.dump {
		if w.dry {
			fmt.Fprintln(w.out, "# "+formatStatement(query, args))
		} else {
			fmt.Fprintln(w.out, formatStatement(query, args))
		}
	}
	if w.dry {
		return nil
	}

	w.executed.Add(1)
	if _, err := w.q.ExecContext(ctx, query, args...); err != nil {
		return &StoreError{Op: "write", Query: query, Err: err}
	}
	w.logger.Debug("write", "query", query, "args", len(args))
	return nil
}

// Reads returns the number of Read calls.
func (w *Wrapper) Reads() int64 { return w.reads.Load() }

// Writes returns the number of Write calls, including skipped dry-run writes.
func (w *Wrapper) Writes() int64 { return w.writes.Load() }

// Executed returns the number of statements sent to the database.
func (w *Wrapper) Executed() int64 { return w.executed.Load() }

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func formatStatement(query string, args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		case nil:
			parts[i] = "NULL"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return query + " (" + strings.Join(parts, ", ") + ")"
}
