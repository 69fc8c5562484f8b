package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func id(v int64) int64 { return v }

func TestMembers(t *testing.T) {
	tests := []struct {
		name       string
		current    []int64
		stored     []int64
		wantUpsert []int64
		wantRemove []int64
	}{
		{"same", []int64{1, 2}, []int64{1, 2}, nil, nil},
		{"added", []int64{1, 2, 3}, []int64{1, 2}, []int64{3}, nil},
		{"removed", []int64{2}, []int64{3, 1, 2}, nil, []int64{1, 3}},
		{"disjoint", []int64{4}, []int64{1}, []int64{4}, []int64{1}},
		{"empty current", nil, []int64{1, 2}, nil, []int64{1, 2}},
		{"duplicates", []int64{5, 5}, []int64{1, 1}, []int64{5}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Members(tt.current, id, tt.stored)
			if diff := cmp.Diff(tt.wantUpsert, plan.Upsert); diff != "" {
				t.Errorf("Upsert mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRemove, plan.Remove); diff != "" {
				t.Errorf("Remove mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type value struct {
	key  int64
	text string
}

func TestValues(t *testing.T) {
	key := func(v value) int64 { return v.key }
	same := func(a, b value) bool { return a.text == b.text }
	stored := []value{{1, "foo"}, {2, "keep"}, {3, "gone"}}

	plan := Values([]value{{1, "foo"}, {2, "changed"}, {4, "new"}}, key, stored, key, same)

	if diff := cmp.Diff([]value{{2, "changed"}, {4, "new"}}, plan.Upsert, cmp.AllowUnexported(value{})); diff != "" {
		t.Errorf("Upsert mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{3}, plan.Remove); diff != "" {
		t.Errorf("Remove mismatch (-want +got):\n%s", diff)
	}
}

func TestValues_UnchangedIsEmpty(t *testing.T) {
	key := func(v value) int64 { return v.key }
	same := func(a, b value) bool { return a.text == b.text }

	plan := Values([]value{{1, "foo"}}, key, []value{{1, "foo"}}, key, same)
	if !plan.Empty() {
		t.Errorf("plan = %+v, want empty", plan)
	}
}

func TestStale(t *testing.T) {
	got := Stale([]int64{1, 2, 3}, []int64{2, 3, 4})
	if diff := cmp.Diff([]int64{1}, got); diff != "" {
		t.Errorf("Stale() mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_UpsertsBeforeRemoves(t *testing.T) {
	var log []string
	plan := Plan[int64, int64]{Upsert: []int64{4}, Remove: []int64{1}}
	err := Apply(context.Background(), plan,
		func(_ context.Context, v int64) error { log = append(log, "upsert"); return nil },
		func(_ context.Context, k int64) error { log = append(log, "remove"); return nil },
	)
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"upsert", "remove"}, log); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_StopsOnError(t *testing.T) {
	removed := 0
	plan := Plan[int64, int64]{Upsert: []int64{1, 2}, Remove: []int64{3}}
	err := Apply(context.Background(), plan,
		func(_ context.Context, v int64) error { return errors.New("boom") },
		func(_ context.Context, k int64) error { removed++; return nil },
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if removed != 0 {
		t.Errorf("removed %d after failed upsert", removed)
	}
}
