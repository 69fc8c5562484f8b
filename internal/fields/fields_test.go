package fields

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/model"
)

// fakeWorkspace records every call made by relation fields.
type fakeWorkspace struct {
	memberships []int64
	followers   []int64
	values      []model.CustomFieldValue

	calls []string
}

func (f *fakeWorkspace) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeWorkspace) EnsureUser(_ context.Context, u asana.Entity) error {
	id, _ := u.ID()
	f.record("EnsureUser %d", id)
	return nil
}

func (f *fakeWorkspace) EnsureProject(_ context.Context, p asana.Entity) error {
	id, _ := p.ID()
	f.record("EnsureProject %d", id)
	return nil
}

func (f *fakeWorkspace) EnsureCustomField(_ context.Context, cf asana.Entity) error {
	id, _ := cf.ID()
	f.record("EnsureCustomField %d", id)
	return nil
}

func (f *fakeWorkspace) TaskMemberships(_ context.Context, taskID int64) ([]int64, error) {
	f.record("TaskMemberships %d", taskID)
	return f.memberships, nil
}

func (f *fakeWorkspace) AddTaskToProject(_ context.Context, taskID int64, p asana.Entity) error {
	id, _ := p.ID()
	f.record("AddTaskToProject %d %d", taskID, id)
	return nil
}

func (f *fakeWorkspace) RemoveTaskFromProject(_ context.Context, taskID, projectID int64) error {
	f.record("RemoveTaskFromProject %d %d", taskID, projectID)
	return nil
}

func (f *fakeWorkspace) Followers(_ context.Context, taskID int64) ([]int64, error) {
	f.record("Followers %d", taskID)
	return f.followers, nil
}

func (f *fakeWorkspace) AddFollower(_ context.Context, taskID int64, u asana.Entity) error {
	id, _ := u.ID()
	f.record("AddFollower %d %d", taskID, id)
	return nil
}

func (f *fakeWorkspace) RemoveFollower(_ context.Context, taskID, userID int64) error {
	f.record("RemoveFollower %d %d", taskID, userID)
	return nil
}

func (f *fakeWorkspace) TaskCustomFieldValues(_ context.Context, taskID int64) ([]model.CustomFieldValue, error) {
	f.record("TaskCustomFieldValues %d", taskID)
	return f.values, nil
}

func (f *fakeWorkspace) AddCustomFieldValue(_ context.Context, v model.CustomFieldValue) error {
	f.record("AddCustomFieldValue %d %d", v.TaskID, v.CustomFieldID)
	return nil
}

func (f *fakeWorkspace) RemoveCustomFieldValue(_ context.Context, taskID, fieldID int64) error {
	f.record("RemoveCustomFieldValue %d %d", taskID, fieldID)
	return nil
}

func (f *fakeWorkspace) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out
}

func num(n int64) json.Number { return json.Number(fmt.Sprint(n)) }

func obj(id int64, name string) map[string]any {
	return map[string]any{"id": num(id), "name": name}
}

func list(items ...map[string]any) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func TestScalar_Extract(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		field Field
		task  asana.Entity
		want  any
	}{
		{"string", NewScalar("name", String), asana.Entity{"name": "x"}, "x"},
		{"missing without default", NewScalar("name", String), asana.Entity{}, nil},
		{"integer", NewScalar("num_hearts", Integer), asana.Entity{"num_hearts": num(3)}, int64(3)},
		{"integer default", NewScalar("num_hearts", Integer, WithDefault(int64(0))), asana.Entity{}, int64(0)},
		{"null uses default", NewScalar("completed", Boolean, WithDefault(false)), asana.Entity{"completed": nil}, false},
		{"boolean", NewScalar("completed", Boolean, WithDefault(false)), asana.Entity{"completed": true}, true},
		{"empty string boolean", NewScalar("completed", Boolean, WithDefault(false)), asana.Entity{"completed": ""}, false},
		{"float", NewScalar("score", Float), asana.Entity{"score": json.Number("1.5")}, 1.5},
		{"path", NewScalar("project_name", String, WithPath("project.name")), asana.Entity{"project": obj(1, "P")}, "P"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.Extract(ctx, tt.task)
			if err != nil {
				t.Fatalf("Extract() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDefinitionSQL(t *testing.T) {
	if got := NewPrimaryKey("id", Integer).DefinitionSQL(); got != `"id" INTEGER NOT NULL PRIMARY KEY` {
		t.Errorf("primary key = %q", got)
	}
	if got := NewScalar("Complex field name.", String).DefinitionSQL(); got != `"Complex field name." VARCHAR(1024)` {
		t.Errorf("scalar = %q", got)
	}
	if got := NewProjects(&fakeWorkspace{}).DefinitionSQL(); got != "" {
		t.Errorf("relation = %q", got)
	}
}

func TestPrimaryKey(t *testing.T) {
	flagged := NewPrimaryKey("task_id", Integer)
	if PrimaryKey([]Field{NewScalar("name", String), flagged}) != flagged {
		t.Error("flagged primary key not chosen")
	}
	byName := NewScalar("id", Integer)
	if PrimaryKey([]Field{byName}) != byName {
		t.Error("id field not chosen")
	}
	if PrimaryKey([]Field{NewScalar("name", String)}) != nil {
		t.Error("expected no primary key")
	}
}

func TestAssignee(t *testing.T) {
	ws := &fakeWorkspace{}
	field := NewAssignee(ws)
	ctx := context.Background()

	got, err := field.Extract(ctx, asana.Entity{})
	if err != nil || got != nil {
		t.Errorf("Extract(no assignee) = %v, %v", got, err)
	}
	got, err = field.Extract(ctx, asana.Entity{"assignee": obj(123, "user")})
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if got != int64(123) {
		t.Errorf("Extract() = %v, want 123", got)
	}
	if diff := cmp.Diff([]string{"EnsureUser 123"}, ws.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestParentID(t *testing.T) {
	field := NewParentID()
	ctx := context.Background()

	if got, _ := field.Extract(ctx, asana.Entity{}); got != nil {
		t.Errorf("Extract(no parent) = %v", got)
	}
	if got, _ := field.Extract(ctx, asana.Entity{"parent": obj(123, "task")}); got != int64(123) {
		t.Errorf("Extract() = %v, want 123", got)
	}
}

func TestProjects_NoProjects(t *testing.T) {
	ws := &fakeWorkspace{}
	got, err := NewProjects(ws).Extract(context.Background(), asana.Entity{"id": num(123)})
	if err != nil || got != nil {
		t.Fatalf("Extract() = %v, %v", got, err)
	}
	if diff := cmp.Diff([]string{"TaskMemberships 123"}, ws.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestProjects_SameProjects(t *testing.T) {
	ws := &fakeWorkspace{memberships: []int64{1, 2, 3}}
	task := asana.Entity{"id": num(123), "projects": list(obj(1, "P1"), obj(2, "P2"), obj(3, "P3"))}

	if _, err := NewProjects(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if got := ws.callsWithPrefix("AddTaskToProject"); len(got) != 0 {
		t.Errorf("unexpected adds: %v", got)
	}
	if got := ws.callsWithPrefix("RemoveTaskFromProject"); len(got) != 0 {
		t.Errorf("unexpected removes: %v", got)
	}
}

func TestProjects_DifferentProjects(t *testing.T) {
	ws := &fakeWorkspace{memberships: []int64{1, 2, 3}}
	task := asana.Entity{"id": num(123), "projects": list(obj(2, "P2"), obj(3, "P3"), obj(4, "P4"))}

	if _, err := NewProjects(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"AddTaskToProject 123 4"}, ws.callsWithPrefix("AddTaskToProject")); diff != "" {
		t.Errorf("adds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"RemoveTaskFromProject 123 1"}, ws.callsWithPrefix("RemoveTaskFromProject")); diff != "" {
		t.Errorf("removes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"EnsureProject 2", "EnsureProject 3"}, ws.callsWithPrefix("EnsureProject")); diff != "" {
		t.Errorf("refresh mismatch (-want +got):\n%s", diff)
	}
}

func TestFollowers(t *testing.T) {
	ws := &fakeWorkspace{followers: []int64{10, 11}}
	task := asana.Entity{"id": num(5), "followers": list(obj(11, "b"), obj(12, "c"))}

	if _, err := NewFollowers(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"AddFollower 5 12"}, ws.callsWithPrefix("AddFollower")); diff != "" {
		t.Errorf("adds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"RemoveFollower 5 10"}, ws.callsWithPrefix("RemoveFollower")); diff != "" {
		t.Errorf("removes mismatch (-want +got):\n%s", diff)
	}
}

func TestMembers_RequiresTaskID(t *testing.T) {
	if _, err := NewFollowers(&fakeWorkspace{}).Extract(context.Background(), asana.Entity{}); err == nil {
		t.Error("expected error for task without id")
	}
}

func text(s string) *string     { return &s }
func number(f float64) *float64 { return &f }
func enum(i int64) *int64       { return &i }

func TestCustomFields_NoFields(t *testing.T) {
	ws := &fakeWorkspace{}
	if _, err := NewCustomFields(ws).Extract(context.Background(), asana.Entity{"id": num(123)}); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if got := ws.callsWithPrefix("AddCustomFieldValue"); len(got) != 0 {
		t.Errorf("unexpected adds: %v", got)
	}
	if got := ws.callsWithPrefix("RemoveCustomFieldValue"); len(got) != 0 {
		t.Errorf("unexpected removes: %v", got)
	}
}

func TestCustomFields_SameFields(t *testing.T) {
	ws := &fakeWorkspace{values: []model.CustomFieldValue{
		{TaskID: 123, CustomFieldID: 1, TextValue: text("foo")},
		{TaskID: 123, CustomFieldID: 2, NumberValue: number(42)},
		{TaskID: 123, CustomFieldID: 3, EnumValue: enum(525)},
	}}
	task := asana.Entity{"id": num(123), "custom_fields": list(
		map[string]any{"id": num(1), "type": "text", "text_value": "foo"},
		map[string]any{"id": num(2), "type": "number", "number_value": num(42)},
		map[string]any{"id": num(3), "type": "enum", "enum_value": obj(525, "High")},
	)}

	if _, err := NewCustomFields(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if got := ws.callsWithPrefix("AddCustomFieldValue"); len(got) != 0 {
		t.Errorf("unexpected adds: %v", got)
	}
	if got := ws.callsWithPrefix("RemoveCustomFieldValue"); len(got) != 0 {
		t.Errorf("unexpected removes: %v", got)
	}
	if got := ws.callsWithPrefix("EnsureCustomField"); len(got) != 3 {
		t.Errorf("EnsureCustomField calls = %v", got)
	}
}

func TestCustomFields_ChangedText(t *testing.T) {
	ws := &fakeWorkspace{values: []model.CustomFieldValue{
		{TaskID: 123, CustomFieldID: 1, TextValue: text("foo")},
	}}
	task := asana.Entity{"id": num(123), "custom_fields": list(
		map[string]any{"id": num(1), "type": "text", "text_value": "bar"},
	)}

	if _, err := NewCustomFields(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"AddCustomFieldValue 123 1"}, ws.callsWithPrefix("AddCustomFieldValue")); diff != "" {
		t.Errorf("adds mismatch (-want +got):\n%s", diff)
	}
	if got := ws.callsWithPrefix("RemoveCustomFieldValue"); len(got) != 0 {
		t.Errorf("unexpected removes: %v", got)
	}
}

func TestCustomFields_DifferentFields(t *testing.T) {
	ws := &fakeWorkspace{values: []model.CustomFieldValue{
		{TaskID: 123, CustomFieldID: 1, TextValue: text("to be removed")},
		{TaskID: 123, CustomFieldID: 2, NumberValue: number(42)},
		{TaskID: 123, CustomFieldID: 3, EnumValue: enum(525)},
	}}
	task := asana.Entity{"id": num(123), "custom_fields": list(
		map[string]any{"id": num(2), "type": "number", "number_value": num(43)},
		map[string]any{"id": num(3), "type": "enum", "enum_value": obj(625, "Low")},
		map[string]any{"id": num(4), "type": "text", "text_value": "new value"},
		map[string]any{"id": num(5), "type": "text", "text_value": "new field"},
	)}

	if _, err := NewCustomFields(ws).Extract(context.Background(), task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	wantAdds := []string{
		"AddCustomFieldValue 123 2",
		"AddCustomFieldValue 123 3",
		"AddCustomFieldValue 123 4",
		"AddCustomFieldValue 123 5",
	}
	if diff := cmp.Diff(wantAdds, ws.callsWithPrefix("AddCustomFieldValue")); diff != "" {
		t.Errorf("adds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"RemoveCustomFieldValue 123 1"}, ws.callsWithPrefix("RemoveCustomFieldValue")); diff != "" {
		t.Errorf("removes mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaults(t *testing.T) {
	fs := Defaults(&fakeWorkspace{})
	pk := PrimaryKey(fs)
	if pk == nil || pk.Name() != "id" || fs[0] != pk {
		t.Fatalf("primary key = %v, want id first", pk)
	}

	var columns []string
	for _, f := range fs {
		if HasColumn(f) {
			columns = append(columns, f.Name())
		}
	}
	want := []string{"id", "name", "notes", "created_at", "modified_at", "completed",
		"completed_at", "due_on", "due_at", "num_hearts", "parent_id", "assignee_id", "assignee_status"}
	if diff := cmp.Diff(want, columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}
