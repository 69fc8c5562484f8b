package fields

import (
	"context"
	"fmt"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/model"
	"github.com/Mschirtzinger/asana2sql/internal/reconcile"
)

// Workspace is the auxiliary-table API relation fields write through.
type Workspace interface {
	EnsureUser(ctx context.Context, user asana.Entity) error
	EnsureProject(ctx context.Context, project asana.Entity) error
	EnsureCustomField(ctx context.Context, field asana.Entity) error

	TaskMemberships(ctx context.Context, taskID int64) ([]int64, error)
	AddTaskToProject(ctx context.Context, taskID int64, project asana.Entity) error
	RemoveTaskFromProject(ctx context.Context, taskID, projectID int64) error

	Followers(ctx context.Context, taskID int64) ([]int64, error)
	AddFollower(ctx context.Context, taskID int64, user asana.Entity) error
	RemoveFollower(ctx context.Context, taskID, userID int64) error

	TaskCustomFieldValues(ctx context.Context, taskID int64) ([]model.CustomFieldValue, error)
	AddCustomFieldValue(ctx context.Context, value model.CustomFieldValue) error
	RemoveCustomFieldValue(ctx context.Context, taskID, customFieldID int64) error
}

// relationOnly supplies the column methods of fields without a column.
type relationOnly struct{}

func (relationOnly) Name() string          { return "" }
func (relationOnly) SQLType() SQLType      { return "" }
func (relationOnly) IsPrimaryKey() bool    { return false }
func (relationOnly) DefinitionSQL() string { return "" }
func (relationOnly) sealed()               {}

// Members reconciles a presence relation between a task and nested objects.
type Members struct {
	relationOnly
	attr     string
	required []string
	stored   func(ctx context.Context, taskID int64) ([]int64, error)
	refresh  func(ctx context.Context, e asana.Entity) error
	add      func(ctx context.Context, taskID int64, e asana.Entity) error
	remove   func(ctx context.Context, taskID, id int64) error
}

// NewProjects reconciles project memberships.
func NewProjects(ws Workspace) *Members {
	return &Members{
		attr:     "projects",
		required: []string{"id", "projects.id", "projects.name"},
		stored:   ws.TaskMemberships,
		refresh:  ws.EnsureProject,
		add:      ws.AddTaskToProject,
		remove:   ws.RemoveTaskFromProject,
	}
}

// NewFollowers reconciles task followers.
func NewFollowers(ws Workspace) *Members {
	return &Members{
		attr:     "followers",
		required: []string{"id", "followers.id", "followers.name"},
		stored:   ws.Followers,
		refresh:  ws.EnsureUser,
		add:      ws.AddFollower,
		remove:   ws.RemoveFollower,
	}
}

func (m *Members) RequiredFields() []string { return m.required }

// Plan compares the task's current members with the stored ones. A task
// without the attribute has no members.
func (m *Members) Plan(ctx context.Context, task asana.Entity) (int64, reconcile.Plan[int64, asana.Entity], error) {
	id, err := taskID(task)
	if err != nil {
		return 0, reconcile.Plan[int64, asana.Entity]{}, err
	}
	stored, err := m.stored(ctx, id)
	if err != nil {
		return 0, reconcile.Plan[int64, asana.Entity]{}, fmt.Errorf("failed to read %s of task %d: %w", m.attr, id, err)
	}

	var current []asana.Entity
	for _, e := range task.List(m.attr) {
		if _, ok := e.ID(); ok {
			current = append(current, e)
		}
	}
	return id, reconcile.Members(current, memberID, stored), nil
}

// Extract plans and applies the relation. Members that stay are refreshed in
// their lookup table, which writes only when their attributes changed.
func (m *Members) Extract(ctx context.Context, task asana.Entity) (any, error) {
	id, plan, err := m.Plan(ctx, task)
	if err != nil {
		return nil, err
	}

	adding := make(map[int64]bool, len(plan.Upsert))
	for _, e := range plan.Upsert {
		adding[memberID(e)] = true
	}
	for _, e := range task.List(m.attr) {
		if mid, ok := e.ID(); ok && !adding[mid] {
			if err := m.refresh(ctx, e); err != nil {
				return nil, err
			}
		}
	}

	err = reconcile.Apply(ctx, plan,
		func(ctx context.Context, e asana.Entity) error { return m.add(ctx, id, e) },
		func(ctx context.Context, mid int64) error { return m.remove(ctx, id, mid) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile %s of task %d: %w", m.attr, id, err)
	}
	return nil, nil
}

func memberID(e asana.Entity) int64 {
	id, _ := e.ID()
	return id
}

// CustomFieldValues reconciles a task's custom field values by value.
type CustomFieldValues struct {
	relationOnly
	ws Workspace
}

// NewCustomFields creates the custom field values field.
func NewCustomFields(ws Workspace) *CustomFieldValues {
	return &CustomFieldValues{ws: ws}
}

// RequiredFields requests the whole custom_fields object: the API returns
// nulls when sub-attributes of custom fields are projected individually.
func (c *CustomFieldValues) RequiredFields() []string {
	return []string{"id", "custom_fields"}
}

// Plan compares the task's current custom field values with the stored ones.
func (c *CustomFieldValues) Plan(ctx context.Context, task asana.Entity) (int64, reconcile.Plan[int64, model.CustomFieldValue], error) {
	var empty reconcile.Plan[int64, model.CustomFieldValue]
	id, err := taskID(task)
	if err != nil {
		return 0, empty, err
	}
	stored, err := c.ws.TaskCustomFieldValues(ctx, id)
	if err != nil {
		return 0, empty, fmt.Errorf("failed to read custom field values of task %d: %w", id, err)
	}

	var current []model.CustomFieldValue
	for _, e := range task.List("custom_fields") {
		if v, ok := model.CustomFieldValueFromEntity(id, e); ok {
			current = append(current, v)
		}
	}

	key := func(v model.CustomFieldValue) int64 { return v.CustomFieldID }
	same := func(v, s model.CustomFieldValue) bool { return v.SameValue(s) }
	return id, reconcile.Values(current, key, stored, key, same), nil
}

// Extract records every referenced custom field definition, then plans and
// applies the value changes.
func (c *CustomFieldValues) Extract(ctx context.Context, task asana.Entity) (any, error) {
	id, plan, err := c.Plan(ctx, task)
	if err != nil {
		return nil, err
	}

	for _, e := range task.List("custom_fields") {
		if _, ok := e.ID(); !ok {
			continue
		}
		if err := c.ws.EnsureCustomField(ctx, e); err != nil {
			return nil, err
		}
	}

	err = reconcile.Apply(ctx, plan,
		c.ws.AddCustomFieldValue,
		func(ctx context.Context, fieldID int64) error { return c.ws.RemoveCustomFieldValue(ctx, id, fieldID) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile custom field values of task %d: %w", id, err)
	}
	return nil, nil
}

// Defaults returns the standard task field list.
func Defaults(ws Workspace) []Field {
	return []Field{
		NewPrimaryKey("id", Integer),
		NewScalar("name", String),
		NewScalar("notes", Text),
		NewScalar("created_at", DateTime),
		NewScalar("modified_at", DateTime),
		NewScalar("completed", Boolean, WithDefault(false)),
		NewScalar("completed_at", DateTime),
		NewScalar("due_on", Date),
		NewScalar("due_at", DateTime),
		NewScalar("num_hearts", Integer, WithDefault(int64(0))),
		NewParentID(),
		NewAssignee(ws),
		NewScalar("assignee_status", String),
		NewProjects(ws),
		NewFollowers(ws),
		NewCustomFields(ws),
	}
}
