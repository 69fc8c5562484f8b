package db

import (
	"context"
	"strings"
	"sync"
)

// Statement is one call recorded by a Recorder.
type Statement struct {
	Query string
	Args  []any
}

// Recorder is an in-memory Store that records every statement and answers
// reads from canned responses. It is meant for tests that count writes.
type Recorder struct {
	mu        sync.Mutex
	reads     []Statement
	writes    []Statement
	responses map[string][]Row
	failWrite error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string][]Row)}
}

// OnRead makes every read whose query starts with prefix return rows.
func (r *Recorder) OnRead(prefix string, rows ...Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = rows
}

// FailWrites makes every subsequent write return err wrapped in a StoreError.
func (r *Recorder) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrite = err
}

// Read implements Store.
func (r *Recorder) Read(_ context.Context, query string, args ...any) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, Statement{Query: query, Args: args})

	best := ""
	for prefix := range r.responses {
		if strings.HasPrefix(query, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, nil
	}
	return r.responses[best], nil
}

// Write implements Store.
func (r *Recorder) Write(_ context.Context, query string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return &StoreError{Op: "write", Query: query, Err: r.failWrite}
	}
	r.writes = append(r.writes, Statement{Query: query, Args: args})
	return nil
}

// Reads returns the recorded reads.
func (r *Recorder) Reads() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Statement(nil), r.reads...)
}

// Writes returns the recorded writes.
func (r *Recorder) Writes() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Statement(nil), r.writes...)
}

// WritesMatching returns the recorded writes whose query starts with prefix.
func (r *Recorder) WritesMatching(prefix string) []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Statement
	for _, s := range r.writes {
		if strings.HasPrefix(s.Query, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets every recorded statement. Canned responses are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = nil
	r.writes = nil
}
