// Package model holds the stored shapes of auxiliary rows that the mirror
// compares by value.
package model

import (
	"github.com/Mschirtzinger/asana2sql/internal/asana"
)

// Custom field types with a scalar stored value.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeEnum   = "enum"
)

// CustomFieldValue is one row of the custom field values table.
type CustomFieldValue struct {
	TaskID        int64
	CustomFieldID int64
	// Type is the custom field type of the remote value. It is not stored.
	Type        string
	TextValue   *string
	NumberValue *float64
	EnumValue   *int64
}

// CustomFieldValueFromEntity reads the value of one entry of a task's
// "custom_fields" list. It reports false when the entry has no id.
func CustomFieldValueFromEntity(taskID int64, e asana.Entity) (CustomFieldValue, bool) {
	id, ok := e.ID()
	if !ok {
		return CustomFieldValue{}, false
	}
	v := CustomFieldValue{TaskID: taskID, CustomFieldID: id, Type: CustomFieldType(e)}

	if s, ok := e["text_value"].(string); ok {
		v.TextValue = &s
	}
	if f, ok := asana.ToFloat64(e["number_value"]); ok {
		v.NumberValue = &f
	}
	switch ev := e["enum_value"].(type) {
	case nil:
	case map[string]any:
		if id, ok := asana.Entity(ev).ID(); ok {
			v.EnumValue = &id
		}
	case asana.Entity:
		if id, ok := ev.ID(); ok {
			v.EnumValue = &id
		}
	default:
		if id, ok := asana.ToInt64(ev); ok {
			v.EnumValue = &id
		}
	}
	return v, true
}

// CustomFieldType returns the type of a custom field or custom field value
// entity, falling back to resource_subtype.
func CustomFieldType(e asana.Entity) string {
	if t, ok := e["type"].(string); ok && t != "" {
		return t
	}
	t, _ := e["resource_subtype"].(string)
	return t
}

// SameValue reports whether v carries the same value as stored. The
// comparison uses v's type: text, number and enum values compare only the
// matching column; other types compare every column.
func (v CustomFieldValue) SameValue(stored CustomFieldValue) bool {
	switch v.Type {
	case TypeText:
		return eqPtr(v.TextValue, stored.TextValue)
	case TypeNumber:
		return eqPtr(v.NumberValue, stored.NumberValue)
	case TypeEnum:
		return eqPtr(v.EnumValue, stored.EnumValue)
	}
	return eqPtr(v.TextValue, stored.TextValue) &&
		eqPtr(v.NumberValue, stored.NumberValue) &&
		eqPtr(v.EnumValue, stored.EnumValue)
}

// Args returns the column values in table order: task_id, custom_field_id,
// text_value, number_value, enum_value.
func (v CustomFieldValue) Args() []any {
	return []any{v.TaskID, v.CustomFieldID, deref(v.TextValue), deref(v.NumberValue), deref(v.EnumValue)}
}

// EnumOption is one row of the custom field enum values table.
type EnumOption struct {
	CustomFieldID int64
	ID            int64
	Name          string
	Enabled       bool
	Color         string
}

// EnumOptionFromEntity reads one entry of a custom field's "enum_options".
func EnumOptionFromEntity(customFieldID int64, e asana.Entity) (EnumOption, bool) {
	id, ok := e.ID()
	if !ok {
		return EnumOption{}, false
	}
	enabled, _ := e["enabled"].(bool)
	color, _ := e["color"].(string)
	return EnumOption{
		CustomFieldID: customFieldID,
		ID:            id,
		Name:          e.Name(),
		Enabled:       enabled,
		Color:         color,
	}, true
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
