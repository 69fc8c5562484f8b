// Package asana models remote Asana records and provides the HTTP source that
// fetches them.
//
// Records are kept as decoded JSON maps (Entity) rather than typed structs:
// the set of attributes present depends on the projection requested with
// opt_fields, and the mirror only ever reads the attributes its fields ask for.
package asana

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entity is one remote record: attribute name to value, where a value is a
// scalar (string, bool, json.Number, nil), a nested Entity, or a []any of
// nested values. Entities are read-only snapshots.
type Entity map[string]any

// ID returns the numeric identifier of the entity.
func (e Entity) ID() (int64, bool) {
	if e == nil {
		return 0, false
	}
	return ToInt64(e["id"])
}

// Name returns the "name" attribute, or "" if absent.
func (e Entity) Name() string {
	s, _ := e["name"].(string)
	return s
}

// Lookup resolves a dotted attribute path such as "assignee.id".
// The boolean is false when any segment is missing or not an object.
func (e Entity) Lookup(path string) (any, bool) {
	var cur any = e
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Object returns the nested object stored under key, or nil.
func (e Entity) Object(key string) Entity {
	m, _ := asMap(e[key])
	return m
}

// List returns the nested objects stored under key. Non-object items are
// skipped; a missing or null key yields an empty list.
func (e Entity) List(key string) []Entity {
	raw, ok := e[key].([]any)
	if !ok {
		if typed, ok := e[key].([]Entity); ok {
			return typed
		}
		return nil
	}
	out := make([]Entity, 0, len(raw))
	for _, item := range raw {
		if m, ok := asMap(item); ok {
			out = append(out, m)
		}
	}
	return out
}

// Select returns a copy of e restricted to the given attribute paths.
// Only the leading segment of each path decides what is kept, matching what
// the remote API returns for an opt_fields projection.
func (e Entity) Select(paths []string) Entity {
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		head, _, _ := strings.Cut(p, ".")
		keep[head] = true
	}
	out := make(Entity, len(keep))
	for k, v := range e {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}

func asMap(v any) (Entity, bool) {
	switch m := v.(type) {
	case Entity:
		return m, true
	case map[string]any:
		return Entity(m), true
	}
	return nil, false
}

// ToInt64 converts the numeric representations produced by JSON decoding
// (json.Number, float64, int variants, numeric strings) into an int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), f == float64(int64(f))
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// ToFloat64 converts a decoded JSON number into a float64.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Decode parses a JSON object into an Entity, keeping numbers as
// json.Number so 64-bit identifiers survive intact.
func Decode(data []byte) (Entity, error) {
	var e Entity
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	normalizeIDs(e)
	return e, nil
}

// normalizeIDs gives every object that only carries a string "gid" a numeric
// "id", recursively. Current API versions no longer return "id".
func normalizeIDs(v any) {
	switch t := v.(type) {
	case Entity:
		normalizeObject(t)
	case map[string]any:
		normalizeObject(t)
	case []any:
		for _, item := range t {
			normalizeIDs(item)
		}
	}
}

func normalizeObject(m map[string]any) {
	if _, ok := m["id"]; !ok {
		if gid, ok := m["gid"].(string); ok {
			if id, err := strconv.ParseInt(gid, 10, 64); err == nil {
				m["id"] = json.Number(strconv.FormatInt(id, 10))
			}
		}
	}
	for _, child := range m {
		normalizeIDs(child)
	}
}
