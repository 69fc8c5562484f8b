// Package project mirrors the tasks of one project into a primary table.
//
// A sync pass runs FETCH → RECONCILE_PRESENT → RECONCILE_STALE → DONE:
//
//   - FETCH retrieves every task of the project, projecting only the
//     attributes the configured fields require. A missing project, a failed
//     fetch or (when synchronizing) a task without a primary key aborts the
//     pass before anything is written, the run log included.
//   - RECONCILE_PRESENT runs every field over every task (relation fields
//     reconcile their tables as they go) and upserts one primary row per task.
//   - RECONCILE_STALE (synchronize only) reads the stored primary keys and
//     deletes those absent from the keys captured at FETCH, together with the
//     deleted tasks' relation rows.
//
// Export skips RECONCILE_STALE and never deletes.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/config"
	"github.com/Mschirtzinger/asana2sql/internal/db"
	"github.com/Mschirtzinger/asana2sql/internal/fields"
	"github.com/Mschirtzinger/asana2sql/internal/reconcile"
)

// Pass modes.
const (
	ModeExport      = "export"
	ModeSynchronize = "synchronize"
)

// Source is the remote side of a pass.
type Source interface {
	Project(ctx context.Context, id int64) (asana.Entity, error)
	Tasks(ctx context.Context, projectID int64, q asana.TaskQuery) ([]asana.Entity, error)
}

// Auxiliary is the workspace-level state a pass drives. *workspace.Workspace
// implements it.
type Auxiliary interface {
	CreateTables(ctx context.Context) error
	BeginPass()
	ForgetTask(ctx context.Context, taskID int64) error
}

// Observer is notified of pass progress. Calls are made synchronously from
// the pass goroutine.
type Observer interface {
	TaskUpserted(projectID int64, task asana.Entity)
	TaskDeleted(projectID, taskID int64)
	PassComplete(result Result)
}

// RunLog records passes. *db.DB implements it.
type RunLog interface {
	StartRun(ctx context.Context, projectID int64, mode string) (string, error)
	FinishRun(ctx context.Context, id string, fetched, upserted, deleted int, runErr error) error
}

// Config selects the project and its table.
type Config struct {
	ProjectID int64
	// TableName overrides the name derived from the project name.
	TableName string
	// ModifiedSince limits an export to recently modified tasks.
	ModifiedSince time.Time
}

// Options holds optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
	RunLog   RunLog
}

// Result summarises one pass.
type Result struct {
	ProjectID int64
	Table     string
	Mode      string
	Fetched   int
	Upserted  int
	Deleted   int
	Stale     []int64
	Duration  time.Duration
}

// Project mirrors one remote project.
type Project struct {
	source Source
	store  db.Store
	aux    Auxiliary
	cfg    Config
	opts   Options
	logger *slog.Logger

	fields []fields.Field

	mu      sync.Mutex
	data    asana.Entity
	running bool
}

// New creates a Project. aux may be nil when fields need no auxiliary tables.
func New(source Source, store db.Store, aux Auxiliary, cfg Config, fs []fields.Field, opts Options) *Project {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{
		source: source,
		store:  store,
		aux:    aux,
		cfg:    cfg,
		opts:   opts,
		logger: logger.With("component", "sync", "project_id", cfg.ProjectID),
		fields: append([]fields.Field(nil), fs...),
	}
}

// AddDerivedFields appends fields to the field list.
func (p *Project) AddDerivedFields(fs ...fields.Field) {
	p.fields = append(p.fields, fs...)
}

// Fields returns the configured fields.
func (p *Project) Fields() []fields.Field {
	return append([]fields.Field(nil), p.fields...)
}

// ID returns the project id.
func (p *Project) ID() int64 {
	return p.cfg.ProjectID
}

func (p *Project) projectData(ctx context.Context) (asana.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data != nil {
		return p.data, nil
	}
	data, err := p.source.Project(ctx, p.cfg.ProjectID)
	if err != nil {
		if errors.Is(err, asana.ErrNotFound) {
			return nil, &NoSuchProjectError{ID: p.cfg.ProjectID}
		}
		return nil, fmt.Errorf("failed to fetch project %d: %w", p.cfg.ProjectID, err)
	}
	p.data = data
	return data, nil
}

// ProjectName returns the remote project's name.
func (p *Project) ProjectName(ctx context.Context) (string, error) {
	data, err := p.projectData(ctx)
	if err != nil {
		return "", err
	}
	return data.Name(), nil
}

var (
	whitespace = regexp.MustCompile(`\s`)
	unsafeChar = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// SafeName derives a table name: whitespace becomes "_", then everything
// outside [A-Za-z0-9_] is dropped. Case is preserved.
func SafeName(name string) string {
	return unsafeChar.ReplaceAllString(whitespace.ReplaceAllString(name, "_"), "")
}

// TableName returns the configured table name, or one derived from the
// project name. Only the derived name is made safe; overrides are used as
// given and rely on identifier quoting.
func (p *Project) TableName(ctx context.Context) (string, error) {
	if p.cfg.TableName != "" {
		return p.cfg.TableName, nil
	}
	name, err := p.ProjectName(ctx)
	if err != nil {
		return "", err
	}
	table := SafeName(name)
	if table == "" {
		return "", config.Errorf("table_name", "project %d name %q yields an empty table name", p.cfg.ProjectID, name)
	}
	return table, nil
}

// RequiredFields returns the sorted union of the fields' attribute paths.
func (p *Project) RequiredFields() []string {
	set := make(map[string]bool)
	for _, f := range p.fields {
		for _, r := range f.RequiredFields() {
			set[r] = true
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (p *Project) columns() []fields.Field {
	var out []fields.Field
	for _, f := range p.fields {
		if fields.HasColumn(f) {
			out = append(out, f)
		}
	}
	return out
}

// CreateTableSQL renders the primary table DDL.
func (p *Project) CreateTableSQL(ctx context.Context) (string, error) {
	table, err := p.TableName(ctx)
	if err != nil {
		return "", err
	}
	defs := make([]string, 0, len(p.fields))
	for _, f := range p.columns() {
		defs = append(defs, f.DefinitionSQL())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", db.QuoteIdent(table), strings.Join(defs, ",")), nil
}

// CreateTable creates the primary table and the auxiliary tables.
func (p *Project) CreateTable(ctx context.Context) error {
	if fields.PrimaryKey(p.fields) == nil {
		return config.Errorf("fields", "no primary key field")
	}
	stmt, err := p.CreateTableSQL(ctx)
	if err != nil {
		return err
	}
	if err := p.store.Write(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if p.aux != nil {
		if err := p.aux.CreateTables(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Export upserts every remote task. It never deletes.
func (p *Project) Export(ctx context.Context) (Result, error) {
	return p.run(ctx, ModeExport)
}

// Synchronize upserts every remote task and deletes stored tasks that no
// longer exist remotely.
func (p *Project) Synchronize(ctx context.Context) (Result, error) {
	if !p.cfg.ModifiedSince.IsZero() {
		return Result{}, config.Errorf("modified_since", "cannot be combined with synchronize")
	}
	return p.run(ctx, ModeSynchronize)
}

func (p *Project) run(ctx context.Context, mode string) (Result, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return Result{}, fmt.Errorf("a pass for project %d is already running", p.cfg.ProjectID)
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var runID string
	fetched := func() {
		if p.opts.RunLog == nil {
			return
		}
		id, err := p.opts.RunLog.StartRun(ctx, p.cfg.ProjectID, mode)
		if err != nil {
			p.logger.Warn("failed to record run", "error", err)
		}
		runID = id
	}

	result, err := p.pass(ctx, mode, fetched)

	if runID != "" {
		if ferr := p.opts.RunLog.FinishRun(context.WithoutCancel(ctx), runID,
			result.Fetched, result.Upserted, result.Deleted, err); ferr != nil {
			p.logger.Warn("failed to record run", "error", ferr)
		}
	}
	if err != nil {
		return result, err
	}

	p.logger.Info("pass complete", "mode", mode, "table", result.Table,
		"fetched", result.Fetched, "upserted", result.Upserted, "deleted", result.Deleted,
		"duration", result.Duration)
	if p.opts.Observer != nil {
		p.opts.Observer.PassComplete(result)
	}
	return result, nil
}

// pass runs one pass. fetched is called once FETCH has succeeded, before the
// first write.
func (p *Project) pass(ctx context.Context, mode string, fetched func()) (Result, error) {
	start := time.Now()
	result := Result{ProjectID: p.cfg.ProjectID, Mode: mode}

	pk := fields.PrimaryKey(p.fields)
	if pk == nil {
		return result, config.Errorf("fields", "no primary key field")
	}
	table, err := p.TableName(ctx)
	if err != nil {
		return result, err
	}
	result.Table = table

	// FETCH
	query := asana.TaskQuery{Fields: p.RequiredFields()}
	if mode == ModeExport {
		query.ModifiedSince = p.cfg.ModifiedSince
	}
	tasks, err := p.source.Tasks(ctx, p.cfg.ProjectID, query)
	if err != nil {
		if errors.Is(err, asana.ErrNotFound) {
			return result, &NoSuchProjectError{ID: p.cfg.ProjectID}
		}
		return result, fmt.Errorf("failed to fetch tasks: %w", err)
	}
	result.Fetched = len(tasks)
	p.logger.Debug("fetched tasks", "count", len(tasks))

	keys := make([]int64, 0, len(tasks))
	present := tasks[:0:0]
	for _, task := range tasks {
		v, err := pk.Extract(ctx, task)
		if err != nil {
			return p.finish(result, start), err
		}
		id, ok := asana.ToInt64(v)
		if !ok {
			// Its stored row could not be told apart from a stale one.
			if mode == ModeSynchronize {
				return p.finish(result, start), fmt.Errorf("fetched task has no %s; not synchronizing", pk.Name())
			}
			p.logger.Warn("skipping task without primary key", "field", pk.Name())
			continue
		}
		keys = append(keys, id)
		present = append(present, task)
	}
	fetched()

	// RECONCILE_PRESENT
	if p.aux != nil {
		p.aux.BeginPass()
	}
	cols := p.columns()
	insertSQL := upsertSQL(table, cols)
	for _, task := range present {
		if err := ctx.Err(); err != nil {
			return p.finish(result, start), err
		}
		if err := p.upsertTask(ctx, insertSQL, task); err != nil {
			return p.finish(result, start), err
		}
		result.Upserted++
		if p.opts.Observer != nil {
			p.opts.Observer.TaskUpserted(p.cfg.ProjectID, task)
		}
	}

	if mode != ModeSynchronize {
		return p.finish(result, start), nil
	}

	// RECONCILE_STALE
	stored, err := p.storedKeys(ctx, table, pk.Name())
	if err != nil {
		return p.finish(result, start), err
	}
	result.Stale = reconcile.Stale(stored, keys)
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ?;", db.QuoteIdent(table), db.QuoteIdent(pk.Name()))
	for _, id := range result.Stale {
		if err := ctx.Err(); err != nil {
			return p.finish(result, start), err
		}
		if err := p.store.Write(ctx, deleteSQL, id); err != nil {
			return p.finish(result, start), fmt.Errorf("failed to delete task %d: %w", id, err)
		}
		if p.aux != nil {
			if err := p.aux.ForgetTask(ctx, id); err != nil {
				return p.finish(result, start), err
			}
		}
		result.Deleted++
		p.logger.Debug("deleted stale task", "task_id", id)
		if p.opts.Observer != nil {
			p.opts.Observer.TaskDeleted(p.cfg.ProjectID, id)
		}
	}
	return p.finish(result, start), nil
}

func (p *Project) finish(result Result, start time.Time) Result {
	result.Duration = time.Since(start)
	return result
}

func (p *Project) upsertTask(ctx context.Context, insertSQL string, task asana.Entity) error {
	args := make([]any, 0, len(p.fields))
	for _, f := range p.fields {
		v, err := f.Extract(ctx, task)
		if err != nil {
			id, _ := task.ID()
			return fmt.Errorf("failed to process task %d: %w", id, err)
		}
		if fields.HasColumn(f) {
			args = append(args, v)
		}
	}
	if err := p.store.Write(ctx, insertSQL, args...); err != nil {
		id, _ := task.ID()
		return fmt.Errorf("failed to upsert task %d: %w", id, err)
	}
	return nil
}

func (p *Project) storedKeys(ctx context.Context, table, column string) ([]int64, error) {
	rows, err := p.store.Read(ctx, fmt.Sprintf("SELECT %s FROM %s;", db.QuoteIdent(column), db.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read stored task ids: %w", err)
	}
	keys := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := asana.ToInt64(row[column]); ok {
			keys = append(keys, id)
		}
	}
	return keys, nil
}

func upsertSQL(table string, cols []fields.Field) string {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, f := range cols {
		names[i] = db.QuoteIdent(f.Name())
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s);",
		db.QuoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", "))
}
