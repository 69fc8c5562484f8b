// Package cache implements the read-through/write-through cache that sits in
// front of the mirror's lookup tables (users, projects, custom fields).
//
// A Cache is seeded lazily, exactly once, from its backing table. Afterwards
// Add writes an entry through to the store only when it is new or differs
// from the cached copy, so referencing the same user from a thousand tasks
// costs one write at most.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Entry is one cached row, keyed by the cache's key attribute.
type Entry map[string]any

// SeedFunc loads every existing row of the backing table.
type SeedFunc func(ctx context.Context) ([]Entry, error)

// InsertFunc writes (insert-or-replace) one row to the backing table.
type InsertFunc func(ctx context.Context, e Entry) error

// Option configures a Cache.
type Option func(*Cache)

// WithKeyName sets the attribute entries are keyed by (default "id").
func WithKeyName(name string) Option {
	return func(c *Cache) { c.keyName = name }
}

// Cache is safe for concurrent use.
type Cache struct {
	seed    SeedFunc
	insert  InsertFunc
	keyName string

	mu      sync.Mutex
	seeded  bool
	entries map[any]Entry
	touched map[any]bool
}

// New creates an unseeded Cache.
func New(seed SeedFunc, insert InsertFunc, opts ...Option) *Cache {
	c := &Cache{
		seed:    seed,
		insert:  insert,
		keyName: "id",
		entries: make(map[any]Entry),
		touched: make(map[any]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyName returns the attribute entries are keyed by.
func (c *Cache) KeyName() string {
	return c.keyName
}

// Get returns the entry for key, or nil if none exists. The key is marked
// touched.
func (c *Cache) Get(ctx context.Context, key any) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	k := normalize(key)
	c.touched[k] = true
	return c.entries[k], nil
}

// Add stores e, writing it through to the backing table only if no entry
// exists for its key or the existing entry differs. It reports whether a
// write happened.
func (c *Cache) Add(ctx context.Context, e Entry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSeeded(ctx); err != nil {
		return false, err
	}

	raw, ok := e[c.keyName]
	if !ok || raw == nil {
		return false, fmt.Errorf("cache entry has no %q key", c.keyName)
	}
	entry := normalizeEntry(e)
	k := entry[c.keyName]
	c.touched[k] = true

	if old, ok := c.entries[k]; ok && equal(old, entry) {
		return false, nil
	}
	if err := c.insert(ctx, entry); err != nil {
		return false, err
	}
	c.entries[k] = entry
	return true, nil
}

// Seed loads the backing rows unless that already happened.
func (c *Cache) Seed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSeeded(ctx)
}

// Len returns the number of cached entries. It does not trigger seeding.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Touched returns the keys read or written since seeding, sorted.
func (c *Cache) Touched() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]any, 0, len(c.touched))
	for k := range c.touched {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Untouched returns the cached keys that were neither read nor written since
// seeding, sorted. Nothing is evicted; see Evict.
func (c *Cache) Untouched() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []any
	for k := range c.entries {
		if !c.touched[k] {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// Evict calls fn with keys (typically Untouched()) and, if it succeeds,
// drops those keys from memory. fn decides what happens to the backing rows.
func (c *Cache) Evict(ctx context.Context, keys []any, fn func(ctx context.Context, keys []any) error) error {
	if len(keys) == 0 {
		return nil
	}
	if fn != nil {
		if err := fn(ctx, keys); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		nk := normalize(k)
		delete(c.entries, nk)
		delete(c.touched, nk)
	}
	return nil
}

// Reset drops every entry and the touched set. The next access seeds again.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded = false
	c.entries = make(map[any]Entry)
	c.touched = make(map[any]bool)
}

// ensureSeeded must be called with c.mu held.
func (c *Cache) ensureSeeded(ctx context.Context) error {
	if c.seeded {
		return nil
	}
	if c.seed != nil {
		rows, err := c.seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed cache: %w", err)
		}
		for _, row := range rows {
			entry := normalizeEntry(row)
			if k, ok := entry[c.keyName]; ok && k != nil {
				c.entries[k] = entry
			}
		}
	}
	c.seeded = true
	return nil
}

func normalizeEntry(e Entry) Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = normalize(v)
	}
	return out
}

// normalize maps the representations a value can take on its way in from
// JSON or out of a SQL driver onto one comparable form: integral numbers
// become int64, other numbers float64, booleans int64 0/1, bytes string.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return normalizeFloat(float64(n))
	case float64:
		return normalizeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return n.String()
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	case []byte:
		return string(n)
	}
	return v
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func equal(a, b Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

func sortKeys(keys []any) {
	sort.Slice(keys, func(i, j int) bool {
		a, aok := keys[i].(int64)
		b, bok := keys[j].(int64)
		if aok && bok {
			return a < b
		}
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
}
