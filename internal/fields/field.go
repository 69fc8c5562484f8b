// Package fields defines how a remote task is projected onto the primary
// table.
//
// A Field is one of a closed set of variants:
//
//   - scalar: a column read from one attribute path, with an optional default
//   - primary key: a scalar column rendered NOT NULL PRIMARY KEY
//   - reference: a column holding the id of a nested object (assignee,
//     parent), optionally recording the object in a lookup table
//   - members: a relation-only field reconciling a presence relation
//     (project memberships, followers)
//   - custom field values: a relation-only field reconciling value-bearing
//     custom field rows
//
// Relation-only fields contribute no column. Their Extract call reconciles the
// relation for the task in two steps, planning against the stored rows and
// then applying the plan, and returns nil.
package fields

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/db"
)

// SQLType is the column type a field renders in DDL.
type SQLType string

// Column types.
const (
	String   SQLType = "VARCHAR(1024)"
	Integer  SQLType = "INTEGER"
	Text     SQLType = "TEXT"
	Float    SQLType = "FLOAT"
	Boolean  SQLType = "BOOLEAN"
	Date     SQLType = "DATE"
	DateTime SQLType = "DATETIME"
)

// Field projects one logical column of a task.
type Field interface {
	// Name is the column name, or "" for relation-only fields.
	Name() string
	// SQLType is the column type, or "" for relation-only fields.
	SQLType() SQLType
	// IsPrimaryKey reports whether the column is the table's primary key.
	IsPrimaryKey() bool
	// RequiredFields lists the remote attribute paths the field reads.
	RequiredFields() []string
	// DefinitionSQL renders the column's DDL fragment, or "" for
	// relation-only fields.
	DefinitionSQL() string
	// Extract returns the column value for task. Relation fields reconcile
	// their relation as a side effect and return nil.
	Extract(ctx context.Context, task asana.Entity) (any, error)

	sealed()
}

// HasColumn reports whether f contributes a column to the primary table.
func HasColumn(f Field) bool {
	return f.Name() != ""
}

// PrimaryKey returns the primary-key field of fs: the one flagged primary, or
// failing that the one named "id". It returns nil when there is none.
func PrimaryKey(fs []Field) Field {
	for _, f := range fs {
		if f.IsPrimaryKey() {
			return f
		}
	}
	for _, f := range fs {
		if f.Name() == "id" {
			return f
		}
	}
	return nil
}

func definition(name string, typ SQLType, primary bool) string {
	def := db.QuoteIdent(name) + " " + string(typ)
	if primary {
		def += " NOT NULL PRIMARY KEY"
	}
	return def
}

// Scalar is a column read from one attribute path.
type Scalar struct {
	name    string
	typ     SQLType
	path    string
	def     any
	primary bool
}

// ScalarOption configures a Scalar.
type ScalarOption func(*Scalar)

// WithDefault sets the value used when the attribute is missing or null.
func WithDefault(v any) ScalarOption {
	return func(s *Scalar) { s.def = v }
}

// WithPath reads the value from path instead of the column name.
func WithPath(path string) ScalarOption {
	return func(s *Scalar) { s.path = path }
}

// NewScalar creates a scalar field named name reading the attribute of the
// same name.
func NewScalar(name string, typ SQLType, opts ...ScalarOption) *Scalar {
	s := &Scalar{name: name, typ: typ, path: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPrimaryKey creates the primary-key field.
func NewPrimaryKey(name string, typ SQLType, opts ...ScalarOption) *Scalar {
	s := NewScalar(name, typ, opts...)
	s.primary = true
	return s
}

func (s *Scalar) Name() string             { return s.name }
func (s *Scalar) SQLType() SQLType         { return s.typ }
func (s *Scalar) IsPrimaryKey() bool       { return s.primary }
func (s *Scalar) RequiredFields() []string { return []string{s.path} }
func (s *Scalar) DefinitionSQL() string    { return definition(s.name, s.typ, s.primary) }
func (s *Scalar) sealed()                  {}

// Extract returns the converted attribute value, or the default when the
// attribute is missing, null or not convertible.
func (s *Scalar) Extract(_ context.Context, task asana.Entity) (any, error) {
	raw, ok := task.Lookup(s.path)
	if !ok || raw == nil {
		return s.def, nil
	}
	v, ok := convert(s.typ, raw)
	if !ok {
		if s.primary {
			return nil, fmt.Errorf("invalid %s value %v for primary key %q", s.typ, raw, s.name)
		}
		return s.def, nil
	}
	return v, nil
}

// convert coerces a decoded JSON value to the Go type the column stores.
func convert(typ SQLType, raw any) (any, bool) {
	switch typ {
	case Integer:
		return asana.ToInt64(raw)
	case Float:
		return asana.ToFloat64(raw)
	case Boolean:
		switch b := raw.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			return parsed, err == nil
		}
		if n, ok := asana.ToFloat64(raw); ok {
			return n != 0, true
		}
		return nil, false
	default:
		switch v := raw.(type) {
		case string:
			return v, true
		case bool, map[string]any, []any:
			return nil, false
		}
		return fmt.Sprint(raw), true
	}
}

// Reference is a column holding the id of a nested object.
type Reference struct {
	name     string
	attr     string
	required []string
	record   func(ctx context.Context, e asana.Entity) error
}

func (r *Reference) Name() string             { return r.name }
func (r *Reference) SQLType() SQLType         { return Integer }
func (r *Reference) IsPrimaryKey() bool       { return false }
func (r *Reference) RequiredFields() []string { return r.required }
func (r *Reference) DefinitionSQL() string    { return definition(r.name, Integer, false) }
func (r *Reference) sealed()                  {}

// Extract returns the nested object's id, or nil when the task has no such
// object. The object is recorded first if the field records references.
func (r *Reference) Extract(ctx context.Context, task asana.Entity) (any, error) {
	obj := task.Object(r.attr)
	if obj == nil {
		return nil, nil
	}
	id, ok := obj.ID()
	if !ok {
		return nil, nil
	}
	if r.record != nil {
		if err := r.record(ctx, obj); err != nil {
			return nil, fmt.Errorf("failed to record %s %d: %w", r.attr, id, err)
		}
	}
	return id, nil
}

// NewAssignee creates assignee_id, recording the assignee in the users table.
func NewAssignee(ws Workspace) *Reference {
	return &Reference{
		name:     "assignee_id",
		attr:     "assignee",
		required: []string{"assignee.id", "assignee.name"},
		record:   ws.EnsureUser,
	}
}

// NewParentID creates parent_id.
func NewParentID() *Reference {
	return &Reference{
		name:     "parent_id",
		attr:     "parent",
		required: []string{"parent.id"},
	}
}

func taskID(task asana.Entity) (int64, error) {
	id, ok := task.ID()
	if !ok {
		return 0, fmt.Errorf("task has no id")
	}
	return id, nil
}
