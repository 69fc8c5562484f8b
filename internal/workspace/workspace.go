// Package workspace maintains the auxiliary tables shared by every mirrored
// project: projects, users and custom field definitions (lookup tables kept
// behind a write-through cache), enum options, and the per-task relation
// tables for project memberships, followers and custom field values.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/cache"
	"github.com/Mschirtzinger/asana2sql/internal/db"
	"github.com/Mschirtzinger/asana2sql/internal/model"
	"github.com/Mschirtzinger/asana2sql/internal/reconcile"
)

// CustomFieldSource fetches custom field definitions with their enum options.
type CustomFieldSource interface {
	CustomField(ctx context.Context, id int64) (asana.Entity, error)
}

// Options configures a Workspace.
type Options struct {
	// Logger (nil = slog.Default()).
	Logger *slog.Logger
}

// Workspace owns the auxiliary tables. It implements fields.Workspace.
type Workspace struct {
	store  db.Store
	source CustomFieldSource
	names  TableNames
	logger *slog.Logger

	users        *cache.Cache
	projects     *cache.Cache
	customFields *cache.Cache

	mu         sync.Mutex
	enumSynced map[int64]bool
}

// New creates a Workspace writing through store. source may be nil, in which
// case enum options are not mirrored.
func New(store db.Store, source CustomFieldSource, names TableNames, opts Options) *Workspace {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workspace{
		store:      store,
		source:     source,
		names:      names.WithDefaults(),
		logger:     logger.With("component", "workspace"),
		enumSynced: make(map[int64]bool),
	}
	w.users = w.lookupCache(w.names.Users, "id", "name")
	w.projects = w.lookupCache(w.names.Projects, "id", "name")
	w.customFields = w.lookupCache(w.names.CustomFields, "id", "name", "type")
	return w
}

// lookupCache builds a cache over table whose first column is the key.
func (w *Workspace) lookupCache(table string, columns ...string) *cache.Cache {
	selectSQL := fmt.Sprintf("SELECT %s FROM %s;", columnList(columns), db.QuoteIdent(table))
	insertSQL := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s);",
		db.QuoteIdent(table), columnList(columns), placeholders(len(columns)))

	seed := func(ctx context.Context) ([]cache.Entry, error) {
		rows, err := w.store.Read(ctx, selectSQL)
		if err != nil {
			return nil, err
		}
		entries := make([]cache.Entry, len(rows))
		for i, row := range rows {
			entries[i] = cache.Entry(row)
		}
		return entries, nil
	}
	insert := func(ctx context.Context, e cache.Entry) error {
		args := make([]any, len(columns))
		for i, c := range columns {
			args[i] = e[c]
		}
		w.logger.Debug("upsert lookup row", "table", table, "id", e[columns[0]])
		return w.store.Write(ctx, insertSQL, args...)
	}
	return cache.New(seed, insert, cache.WithKeyName(columns[0]))
}

// Tables returns the resolved auxiliary table names.
func (w *Workspace) Tables() TableNames {
	return w.names
}

// CreateTables creates every auxiliary table if it does not exist.
func (w *Workspace) CreateTables(ctx context.Context) error {
	q := db.QuoteIdent
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("id" INTEGER NOT NULL PRIMARY KEY, "name" VARCHAR(1024));`,
			q(w.names.Projects)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("task_id" INTEGER NOT NULL, "project_id" INTEGER NOT NULL, PRIMARY KEY ("task_id", "project_id"));`,
			q(w.names.ProjectMemberships)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("id" INTEGER NOT NULL PRIMARY KEY, "name" VARCHAR(1024));`,
			q(w.names.Users)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("task_id" INTEGER NOT NULL, "user_id" INTEGER NOT NULL, PRIMARY KEY ("task_id", "user_id"));`,
			q(w.names.Followers)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("id" INTEGER NOT NULL PRIMARY KEY, "name" VARCHAR(1024), "type" VARCHAR(64));`,
			q(w.names.CustomFields)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("custom_field_id" INTEGER NOT NULL, "id" INTEGER NOT NULL, "name" VARCHAR(1024), "enabled" BOOLEAN NOT NULL, "color" VARCHAR(64), PRIMARY KEY ("custom_field_id", "id"));`,
			q(w.names.CustomFieldEnumValues)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("task_id" INTEGER NOT NULL, "custom_field_id" INTEGER NOT NULL, "text_value" TEXT, "number_value" FLOAT, "enum_value" INTEGER, PRIMARY KEY ("task_id", "custom_field_id"));`,
			q(w.names.CustomFieldValues)),
	}
	for _, stmt := range stmts {
		if err := w.store.Write(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create auxiliary tables: %w", err)
		}
	}
	return nil
}

// BeginPass starts a sync pass: caches are dropped so they seed again from
// the store on first use, and enum options become due for a refresh.
func (w *Workspace) BeginPass() {
	w.users.Reset()
	w.projects.Reset()
	w.customFields.Reset()

	w.mu.Lock()
	w.enumSynced = make(map[int64]bool)
	w.mu.Unlock()
}

// EnsureUser records a user in the users table.
func (w *Workspace) EnsureUser(ctx context.Context, user asana.Entity) error {
	return w.addLookup(ctx, w.users, "user", user, cache.Entry{"name": nullable(user.Name())})
}

// EnsureProject records a project in the projects table.
func (w *Workspace) EnsureProject(ctx context.Context, project asana.Entity) error {
	return w.addLookup(ctx, w.projects, "project", project, cache.Entry{"name": nullable(project.Name())})
}

// EnsureCustomField records a custom field definition. The first time an
// enum field is seen in a pass its enum options are mirrored too.
func (w *Workspace) EnsureCustomField(ctx context.Context, field asana.Entity) error {
	typ := model.CustomFieldType(field)
	if err := w.addLookup(ctx, w.customFields, "custom field", field,
		cache.Entry{"name": nullable(field.Name()), "type": nullable(typ)}); err != nil {
		return err
	}
	if typ != model.TypeEnum || w.source == nil {
		return nil
	}

	id, _ := field.ID()
	w.mu.Lock()
	done := w.enumSynced[id]
	w.enumSynced[id] = true
	w.mu.Unlock()
	if done {
		return nil
	}
	return w.SyncEnumOptions(ctx, id)
}

func (w *Workspace) addLookup(ctx context.Context, c *cache.Cache, kind string, e asana.Entity, attrs cache.Entry) error {
	id, ok := e.ID()
	if !ok {
		return fmt.Errorf("%s has no id", kind)
	}
	attrs[c.KeyName()] = id
	if _, err := c.Add(ctx, attrs); err != nil {
		return fmt.Errorf("failed to record %s %d: %w", kind, id, err)
	}
	return nil
}

// TaskMemberships returns the ids of the projects a task is stored as a
// member of.
func (w *Workspace) TaskMemberships(ctx context.Context, taskID int64) ([]int64, error) {
	return w.readIDs(ctx, fmt.Sprintf(`SELECT "project_id" FROM %s WHERE "task_id" = ?;`,
		db.QuoteIdent(w.names.ProjectMemberships)), "project_id", taskID)
}

// AddTaskToProject records the project and the membership.
func (w *Workspace) AddTaskToProject(ctx context.Context, taskID int64, project asana.Entity) error {
	if err := w.EnsureProject(ctx, project); err != nil {
		return err
	}
	projectID, _ := project.ID()
	return w.store.Write(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s ("task_id", "project_id") VALUES (?, ?);`,
			db.QuoteIdent(w.names.ProjectMemberships)),
		taskID, projectID)
}

// RemoveTaskFromProject deletes one membership.
func (w *Workspace) RemoveTaskFromProject(ctx context.Context, taskID, projectID int64) error {
	return w.store.Write(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE "task_id" = ? AND "project_id" = ?;`,
			db.QuoteIdent(w.names.ProjectMemberships)),
		taskID, projectID)
}

// Followers returns the ids of the users stored as following a task.
func (w *Workspace) Followers(ctx context.Context, taskID int64) ([]int64, error) {
	return w.readIDs(ctx, fmt.Sprintf(`SELECT "user_id" FROM %s WHERE "task_id" = ?;`,
		db.QuoteIdent(w.names.Followers)), "user_id", taskID)
}

// AddFollower records the user and the follower row.
func (w *Workspace) AddFollower(ctx context.Context, taskID int64, user asana.Entity) error {
	if err := w.EnsureUser(ctx, user); err != nil {
		return err
	}
	userID, _ := user.ID()
	return w.store.Write(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s ("task_id", "user_id") VALUES (?, ?);`,
			db.QuoteIdent(w.names.Followers)),
		taskID, userID)
}

// RemoveFollower deletes one follower row.
func (w *Workspace) RemoveFollower(ctx context.Context, taskID, userID int64) error {
	return w.store.Write(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE "task_id" = ? AND "user_id" = ?;`,
			db.QuoteIdent(w.names.Followers)),
		taskID, userID)
}

// TaskCustomFieldValues returns the stored custom field values of a task.
func (w *Workspace) TaskCustomFieldValues(ctx context.Context, taskID int64) ([]model.CustomFieldValue, error) {
	rows, err := w.store.Read(ctx,
		fmt.Sprintf(`SELECT "custom_field_id", "text_value", "number_value", "enum_value" FROM %s WHERE "task_id" = ?;`,
			db.QuoteIdent(w.names.CustomFieldValues)),
		taskID)
	if err != nil {
		return nil, err
	}

	values := make([]model.CustomFieldValue, 0, len(rows))
	for _, row := range rows {
		fieldID, ok := asana.ToInt64(row["custom_field_id"])
		if !ok {
			continue
		}
		v := model.CustomFieldValue{TaskID: taskID, CustomFieldID: fieldID}
		if s, ok := row["text_value"].(string); ok {
			v.TextValue = &s
		}
		if f, ok := asana.ToFloat64(row["number_value"]); ok {
			v.NumberValue = &f
		}
		if e, ok := asana.ToInt64(row["enum_value"]); ok {
			v.EnumValue = &e
		}
		values = append(values, v)
	}
	return values, nil
}

// AddCustomFieldValue upserts one custom field value row.
func (w *Workspace) AddCustomFieldValue(ctx context.Context, v model.CustomFieldValue) error {
	return w.store.Write(ctx,
		fmt.Sprintf(`INSERT OR REPLACE INTO %s ("task_id", "custom_field_id", "text_value", "number_value", "enum_value") VALUES (?, ?, ?, ?, ?);`,
			db.QuoteIdent(w.names.CustomFieldValues)),
		v.Args()...)
}

// RemoveCustomFieldValue deletes one custom field value row.
func (w *Workspace) RemoveCustomFieldValue(ctx context.Context, taskID, customFieldID int64) error {
	return w.store.Write(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE "task_id" = ? AND "custom_field_id" = ?;`,
			db.QuoteIdent(w.names.CustomFieldValues)),
		taskID, customFieldID)
}

// ForgetTask deletes every relation row of a task: memberships, followers
// and custom field values. Lookup rows are left alone.
func (w *Workspace) ForgetTask(ctx context.Context, taskID int64) error {
	for _, table := range []string{w.names.ProjectMemberships, w.names.Followers, w.names.CustomFieldValues} {
		err := w.store.Write(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "task_id" = ?;`, db.QuoteIdent(table)), taskID)
		if err != nil {
			return fmt.Errorf("failed to remove relations of task %d: %w", taskID, err)
		}
	}
	return nil
}

// SyncEnumOptions fetches a custom field's enum options and makes the stored
// options match: changed or new options are upserted, options no longer
// offered are deleted. A definition the source does not have leaves the
// stored options as they are.
func (w *Workspace) SyncEnumOptions(ctx context.Context, customFieldID int64) error {
	field, err := w.source.CustomField(ctx, customFieldID)
	if errors.Is(err, asana.ErrNotFound) {
		w.logger.Warn("custom field definition not available, enum options left unchanged",
			"custom_field_id", customFieldID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch custom field %d: %w", customFieldID, err)
	}
	var current []model.EnumOption
	for _, e := range field.List("enum_options") {
		if o, ok := model.EnumOptionFromEntity(customFieldID, e); ok {
			current = append(current, o)
		}
	}

	table := db.QuoteIdent(w.names.CustomFieldEnumValues)
	rows, err := w.store.Read(ctx,
		fmt.Sprintf(`SELECT "id", "name", "enabled", "color" FROM %s WHERE "custom_field_id" = ?;`, table),
		customFieldID)
	if err != nil {
		return err
	}
	stored := make([]model.EnumOption, 0, len(rows))
	for _, row := range rows {
		id, ok := asana.ToInt64(row["id"])
		if !ok {
			continue
		}
		name, _ := row["name"].(string)
		color, _ := row["color"].(string)
		stored = append(stored, model.EnumOption{
			CustomFieldID: customFieldID,
			ID:            id,
			Name:          name,
			Enabled:       truthy(row["enabled"]),
			Color:         color,
		})
	}

	key := func(o model.EnumOption) int64 { return o.ID }
	same := func(a, b model.EnumOption) bool { return a == b }
	plan := reconcile.Values(current, key, stored, key, same)
	if plan.Empty() {
		return nil
	}

	w.logger.Debug("reconcile enum options", "custom_field_id", customFieldID,
		"upsert", len(plan.Upsert), "remove", len(plan.Remove))
	return reconcile.Apply(ctx, plan,
		func(ctx context.Context, o model.EnumOption) error {
			return w.store.Write(ctx,
				fmt.Sprintf(`INSERT OR REPLACE INTO %s ("custom_field_id", "id", "name", "enabled", "color") VALUES (?, ?, ?, ?, ?);`, table),
				o.CustomFieldID, o.ID, o.Name, o.Enabled, o.Color)
		},
		func(ctx context.Context, id int64) error {
			return w.store.Write(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE "custom_field_id" = ? AND "id" = ?;`, table),
				customFieldID, id)
		},
	)
}

func (w *Workspace) readIDs(ctx context.Context, query, column string, args ...any) ([]int64, error) {
	rows, err := w.store.Read(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := asana.ToInt64(row[column]); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "1" || b == "true"
	}
	n, _ := asana.ToInt64(v)
	return n != 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
