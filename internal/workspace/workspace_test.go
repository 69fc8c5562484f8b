package workspace

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/asana2sql/internal/asana"
	"github.com/Mschirtzinger/asana2sql/internal/db"
	"github.com/Mschirtzinger/asana2sql/internal/fields"
	"github.com/Mschirtzinger/asana2sql/internal/model"
)

// Compile-time check that Workspace is usable by relation fields.
var _ fields.Workspace = (*Workspace)(nil)

func entity(id int64, name string) asana.Entity {
	return asana.Entity{"id": json.Number(strconv.FormatInt(id, 10)), "name": name}
}

type fakeSource map[int64]asana.Entity

func (f fakeSource) CustomField(_ context.Context, id int64) (asana.Entity, error) {
	e, ok := f[id]
	if !ok {
		return nil, &asana.NotFoundError{Resource: "custom field", ID: id}
	}
	return e, nil
}

// sqliteWorkspace creates a Workspace over a real SQLite database.
func sqliteWorkspace(t *testing.T, source CustomFieldSource) (*Workspace, *db.Wrapper) {
	t.Helper()
	conn, err := db.Open(db.Config{DSN: filepath.Join(t.TempDir(), "ws.db")})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	store := db.NewWrapper(conn.RawDB(), db.WrapperOptions{})
	ws := New(store, source, TableNames{}, Options{})
	if err := ws.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables() failed: %v", err)
	}
	return ws, store
}

func TestDefaultTableNames(t *testing.T) {
	ws := New(db.NewRecorder(), nil, TableNames{}, Options{})
	want := TableNames{
		Projects:              "projects",
		ProjectMemberships:    "project_memberships",
		Users:                 "users",
		Followers:             "followers",
		CustomFields:          "custom_fields",
		CustomFieldEnumValues: "custom_field_enum_values",
		CustomFieldValues:     "custom_field_values",
	}
	if diff := cmp.Diff(want, ws.Tables()); diff != "" {
		t.Errorf("Tables() mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomTableNames(t *testing.T) {
	names := TableNames{
		Projects:              "custom projects",
		ProjectMemberships:    "custom project_memberships",
		Users:                 "custom users",
		Followers:             "custom followers",
		CustomFields:          "custom custom_fields",
		CustomFieldEnumValues: "custom custom_field_enum_values",
		CustomFieldValues:     "custom custom_field_values",
	}
	ws := New(db.NewRecorder(), nil, names, Options{})
	if diff := cmp.Diff(names, ws.Tables()); diff != "" {
		t.Errorf("Tables() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateTables(t *testing.T) {
	rec := db.NewRecorder()
	ws := New(rec, nil, TableNames{Users: "people"}, Options{})
	if err := ws.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables() failed: %v", err)
	}

	writes := rec.Writes()
	if len(writes) != 7 {
		t.Fatalf("got %d statements, want 7", len(writes))
	}
	for _, w := range writes {
		if !strings.HasPrefix(w.Query, "CREATE TABLE IF NOT EXISTS ") {
			t.Errorf("unexpected statement %q", w.Query)
		}
	}
	if !strings.Contains(writes[2].Query, `"people"`) {
		t.Errorf("users override not applied: %q", writes[2].Query)
	}
}

func TestAddNewUser(t *testing.T) {
	rec := db.NewRecorder()
	rec.OnRead(`SELECT "id", "name" FROM "users"`, db.Row{"id": int64(1), "name": "foo"})
	ws := New(rec, nil, TableNames{}, Options{})

	if err := ws.EnsureUser(context.Background(), entity(2, "bar")); err != nil {
		t.Fatalf("EnsureUser() failed: %v", err)
	}
	writes := rec.Writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	if writes[0].Query != `INSERT OR REPLACE INTO "users" ("id", "name") VALUES (?, ?);` {
		t.Errorf("query = %q", writes[0].Query)
	}
	if diff := cmp.Diff([]any{int64(2), "bar"}, writes[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestAddSameUser(t *testing.T) {
	rec := db.NewRecorder()
	rec.OnRead(`SELECT "id", "name" FROM "users"`, db.Row{"id": int64(1), "name": "foo"})
	ws := New(rec, nil, TableNames{}, Options{})

	if err := ws.EnsureUser(context.Background(), entity(1, "foo")); err != nil {
		t.Fatalf("EnsureUser() failed: %v", err)
	}
	if got := rec.Writes(); len(got) != 0 {
		t.Errorf("unexpected writes: %v", got)
	}
}

func TestAddExistingUser(t *testing.T) {
	rec := db.NewRecorder()
	rec.OnRead(`SELECT "id", "name" FROM "users"`, db.Row{"id": int64(1), "name": "foo"})
	ws := New(rec, nil, TableNames{}, Options{})

	if err := ws.EnsureUser(context.Background(), entity(1, "bar")); err != nil {
		t.Fatalf("EnsureUser() failed: %v", err)
	}
	writes := rec.Writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	if diff := cmp.Diff([]any{int64(1), "bar"}, writes[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestEnsureProject(t *testing.T) {
	tests := []struct {
		name       string
		project    asana.Entity
		wantWrites int
	}{
		{"new", entity(2, "bar"), 1},
		{"same", entity(1, "foo"), 0},
		{"existing", entity(1, "bar"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := db.NewRecorder()
			rec.OnRead(`SELECT "id", "name" FROM "projects"`, db.Row{"id": int64(1), "name": "foo"})
			ws := New(rec, nil, TableNames{}, Options{})

			if err := ws.EnsureProject(context.Background(), tt.project); err != nil {
				t.Fatalf("EnsureProject() failed: %v", err)
			}
			if got := len(rec.Writes()); got != tt.wantWrites {
				t.Errorf("got %d writes, want %d", got, tt.wantWrites)
			}
		})
	}
}

func TestUserSeededOncePerPass(t *testing.T) {
	rec := db.NewRecorder()
	ws := New(rec, nil, TableNames{}, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = ws.EnsureUser(ctx, entity(1, "foo"))
	}
	ws.BeginPass()
	_ = ws.EnsureUser(ctx, entity(1, "foo"))

	seeds := 0
	for _, r := range rec.Reads() {
		if strings.HasPrefix(r.Query, `SELECT "id", "name" FROM "users"`) {
			seeds++
		}
	}
	if seeds != 2 {
		t.Errorf("users seeded %d times, want 2", seeds)
	}
}

// TestMembershipConvergence checks that stored memberships equal the remote
// set after reconciliation, whatever was stored before.
func TestMembershipConvergence(t *testing.T) {
	ws, _ := sqliteWorkspace(t, nil)
	ctx := context.Background()
	field := fields.NewProjects(ws)

	snapshots := [][]int64{{1, 2, 3}, {2, 3, 4}, {}, {5}, {5, 1}}
	for _, ids := range snapshots {
		var projects []any
		for _, id := range ids {
			projects = append(projects, map[string]any(entity(id, "p")))
		}
		task := asana.Entity{"id": json.Number("100"), "projects": projects}
		if _, err := field.Extract(ctx, task); err != nil {
			t.Fatalf("Extract() failed: %v", err)
		}

		got, err := ws.TaskMemberships(ctx, 100)
		if err != nil {
			t.Fatalf("TaskMemberships() failed: %v", err)
		}
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		want := append([]int64{}, ids...)
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("memberships after %v mismatch (-want +got):\n%s", ids, diff)
		}
	}
}

func TestFollowerConvergence(t *testing.T) {
	ws, _ := sqliteWorkspace(t, nil)
	ctx := context.Background()
	field := fields.NewFollowers(ws)

	for _, ids := range [][]int64{{7, 8}, {8, 9}} {
		var followers []any
		for _, id := range ids {
			followers = append(followers, map[string]any(entity(id, "u")))
		}
		if _, err := field.Extract(ctx, asana.Entity{"id": json.Number("1"), "followers": followers}); err != nil {
			t.Fatalf("Extract() failed: %v", err)
		}
	}

	got, err := ws.Followers(ctx, 1)
	if err != nil {
		t.Fatalf("Followers() failed: %v", err)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if diff := cmp.Diff([]int64{8, 9}, got); diff != "" {
		t.Errorf("followers mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomFieldValues_RoundTrip(t *testing.T) {
	ws, store := sqliteWorkspace(t, nil)
	ctx := context.Background()

	text := "foo"
	if err := ws.AddCustomFieldValue(ctx, model.CustomFieldValue{TaskID: 1, CustomFieldID: 2, TextValue: &text}); err != nil {
		t.Fatalf("AddCustomFieldValue() failed: %v", err)
	}
	values, err := ws.TaskCustomFieldValues(ctx, 1)
	if err != nil {
		t.Fatalf("TaskCustomFieldValues() failed: %v", err)
	}
	if len(values) != 1 || values[0].TextValue == nil || *values[0].TextValue != "foo" || values[0].NumberValue != nil {
		t.Fatalf("values = %+v", values)
	}

	// An unchanged remote value produces no writes.
	before := store.Writes()
	task := asana.Entity{"id": json.Number("1"), "custom_fields": []any{
		map[string]any{"id": json.Number("2"), "name": "Notes", "type": "text", "text_value": "foo"},
	}}
	if _, err := fields.NewCustomFields(ws).Extract(ctx, task); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	// One write records the custom field definition itself.
	if got := store.Writes() - before; got != 1 {
		t.Errorf("got %d writes, want 1", got)
	}
}

func TestSyncEnumOptions(t *testing.T) {
	source := fakeSource{5: asana.Entity{
		"id": json.Number("5"), "name": "Priority", "type": "enum",
		"enum_options": []any{
			map[string]any{"id": json.Number("51"), "name": "High", "enabled": true, "color": "red"},
			map[string]any{"id": json.Number("52"), "name": "Low", "enabled": true, "color": "blue"},
		},
	}}
	ws, store := sqliteWorkspace(t, source)
	ctx := context.Background()

	if err := ws.SyncEnumOptions(ctx, 5); err != nil {
		t.Fatalf("SyncEnumOptions() failed: %v", err)
	}
	before := store.Writes()
	if err := ws.SyncEnumOptions(ctx, 5); err != nil {
		t.Fatalf("SyncEnumOptions() failed: %v", err)
	}
	if got := store.Writes() - before; got != 0 {
		t.Errorf("unchanged options produced %d writes", got)
	}

	source[5]["enum_options"] = []any{
		map[string]any{"id": json.Number("51"), "name": "High", "enabled": false, "color": "red"},
	}
	before = store.Writes()
	if err := ws.SyncEnumOptions(ctx, 5); err != nil {
		t.Fatalf("SyncEnumOptions() failed: %v", err)
	}
	if got := store.Writes() - before; got != 2 {
		t.Errorf("got %d writes, want 1 upsert + 1 delete", got)
	}

	rows, err := store.Read(ctx, `SELECT "id" FROM "custom_field_enum_values" WHERE "custom_field_id" = ?;`, int64(5))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != int64(51) {
		t.Errorf("stored options = %v", rows)
	}
}

func TestSyncEnumOptions_MissingDefinition(t *testing.T) {
	ws, store := sqliteWorkspace(t, fakeSource{})
	ctx := context.Background()
	if err := store.Write(ctx,
		`INSERT INTO "custom_field_enum_values" ("custom_field_id", "id", "name", "enabled", "color") VALUES (?, ?, ?, ?, ?);`,
		int64(30), int64(31), "Open", true, "green"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	field := asana.Entity{"id": json.Number("30"), "name": "State", "type": "enum"}
	before := store.Writes()
	if err := ws.EnsureCustomField(ctx, field); err != nil {
		t.Fatalf("EnsureCustomField() failed: %v", err)
	}
	// Only the definition row; the options are not touched.
	if got := store.Writes() - before; got != 1 {
		t.Errorf("got %d writes, want 1", got)
	}
	rows, err := store.Read(ctx, `SELECT "id" FROM "custom_field_enum_values" WHERE "custom_field_id" = ?;`, int64(30))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("stored options = %v, want the one option kept", rows)
	}
}

func TestEnsureCustomField_EnumOptionsOncePerPass(t *testing.T) {
	source := fakeSource{5: asana.Entity{"id": json.Number("5"), "type": "enum", "enum_options": []any{}}}
	rec := db.NewRecorder()
	ws := New(rec, source, TableNames{}, Options{})
	ctx := context.Background()

	field := asana.Entity{"id": json.Number("5"), "name": "Priority", "type": "enum"}
	for i := 0; i < 3; i++ {
		if err := ws.EnsureCustomField(ctx, field); err != nil {
			t.Fatalf("EnsureCustomField() failed: %v", err)
		}
	}

	enumReads := 0
	for _, r := range rec.Reads() {
		if strings.Contains(r.Query, `"custom_field_enum_values"`) {
			enumReads++
		}
	}
	if enumReads != 1 {
		t.Errorf("enum options synced %d times, want 1", enumReads)
	}
}

func TestForgetTask(t *testing.T) {
	rec := db.NewRecorder()
	ws := New(rec, nil, TableNames{}, Options{})
	if err := ws.ForgetTask(context.Background(), 9); err != nil {
		t.Fatalf("ForgetTask() failed: %v", err)
	}
	want := []string{
		`DELETE FROM "project_memberships" WHERE "task_id" = ?;`,
		`DELETE FROM "followers" WHERE "task_id" = ?;`,
		`DELETE FROM "custom_field_values" WHERE "task_id" = ?;`,
	}
	var got []string
	for _, w := range rec.Writes() {
		got = append(got, w.Query)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}
}

func TestUntouchedAndPrune(t *testing.T) {
	ws, store := sqliteWorkspace(t, nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := ws.EnsureUser(ctx, entity(id, "u")); err != nil {
			t.Fatalf("EnsureUser() failed: %v", err)
		}
	}

	ws.BeginPass()
	if err := ws.EnsureUser(ctx, entity(2, "u")); err != nil {
		t.Fatalf("EnsureUser() failed: %v", err)
	}

	untouched, err := ws.Untouched(ctx)
	if err != nil {
		t.Fatalf("Untouched() failed: %v", err)
	}
	if diff := cmp.Diff([]any{int64(1), int64(3)}, untouched["users"]); diff != "" {
		t.Errorf("untouched users mismatch (-want +got):\n%s", diff)
	}

	removed, err := ws.PruneUntouched(ctx)
	if err != nil {
		t.Fatalf("PruneUntouched() failed: %v", err)
	}
	if removed["users"] != 2 {
		t.Errorf("removed = %v", removed)
	}
	rows, err := store.Read(ctx, `SELECT "id" FROM "users";`)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != int64(2) {
		t.Errorf("remaining users = %v", rows)
	}
}
