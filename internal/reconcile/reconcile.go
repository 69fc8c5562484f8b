// Package reconcile computes and applies the writes that make a stored
// relation match a remote snapshot.
//
// Planning is pure: Members and Values compare the current remote children of
// one owner with what is stored and return a Plan. Apply then performs the
// plan's writes through caller-supplied functions. Keeping the two apart lets
// the remove set be fixed before any write of the pass happens.
package reconcile

import (
	"cmp"
	"context"
	"slices"
)

// Plan is the set of writes for one owner's relation.
type Plan[K cmp.Ordered, V any] struct {
	// Upsert holds the children to insert or replace, in snapshot order.
	Upsert []V
	// Remove holds stored keys absent from the snapshot, sorted.
	Remove []K
}

// Empty reports whether the plan has no writes.
func (p Plan[K, V]) Empty() bool {
	return len(p.Upsert) == 0 && len(p.Remove) == 0
}

// Members plans a presence-only relation (memberships, followers): current
// children not yet stored are upserted, stored keys not present in current
// are removed. Duplicate current keys count once.
func Members[K cmp.Ordered, V any](current []V, key func(V) K, stored []K) Plan[K, V] {
	have := make(map[K]bool, len(stored))
	for _, k := range stored {
		have[k] = true
	}

	var plan Plan[K, V]
	seen := make(map[K]bool, len(current))
	for _, v := range current {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		if !have[k] {
			plan.Upsert = append(plan.Upsert, v)
		}
	}
	plan.Remove = Stale(stored, keysOf(seen))
	return plan
}

// Values plans a value-bearing relation (custom field values). A current
// child whose stored counterpart is unchanged is skipped; changed or new
// children are upserted; stored keys absent from current are removed.
func Values[K cmp.Ordered, V, S any](
	current []V, key func(V) K,
	stored []S, storedKey func(S) K,
	unchanged func(V, S) bool,
) Plan[K, V] {
	byKey := make(map[K]S, len(stored))
	storedKeys := make([]K, 0, len(stored))
	for _, s := range stored {
		k := storedKey(s)
		byKey[k] = s
		storedKeys = append(storedKeys, k)
	}

	var plan Plan[K, V]
	seen := make(map[K]bool, len(current))
	for _, v := range current {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		if s, ok := byKey[k]; ok && unchanged(v, s) {
			continue
		}
		plan.Upsert = append(plan.Upsert, v)
	}
	plan.Remove = Stale(storedKeys, keysOf(seen))
	return plan
}

// Stale returns the keys of stored that are not in present, sorted and
// deduplicated.
func Stale[K cmp.Ordered](stored []K, present []K) []K {
	keep := make(map[K]bool, len(present))
	for _, k := range present {
		keep[k] = true
	}
	var out []K
	for _, k := range stored {
		if !keep[k] {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Apply performs the plan: every upsert first, then every removal. It stops
// at the first error; writes already made stand.
func Apply[K cmp.Ordered, V any](
	ctx context.Context, plan Plan[K, V],
	upsert func(context.Context, V) error,
	remove func(context.Context, K) error,
) error {
	for _, v := range plan.Upsert {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := upsert(ctx, v); err != nil {
			return err
		}
	}
	for _, k := range plan.Remove {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func keysOf[K comparable](m map[K]bool) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
