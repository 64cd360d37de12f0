package model

import (
	"fmt"
	"strconv"
)

// IDField is the name of the identifier field every entity carries.
const IDField = "id"

// Entity is a single record. All fields other than "id" are opaque named
// values described by field metadata.
type Entity map[string]any

// ID returns the identifier of the entity formatted as a string, or "" when
// the entity has no identifier.
func (e Entity) ID() string {
	if e == nil {
		return ""
	}
	return FormatID(e[IDField])
}

// Clone returns a deep copy of the entity. Nested maps and slices are copied
// so that the clone can be mutated without affecting the source.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a copy of e with the fields of patch applied on top.
func (e Entity) Merge(patch Entity) Entity {
	out := e.Clone()
	if out == nil {
		out = make(Entity, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneEntities deep-copies a slice of entities.
func CloneEntities(items []Entity) []Entity {
	if items == nil {
		return nil
	}
	out := make([]Entity, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// FormatID normalises an identifier value to its string form. Integral
// floats (as produced by JSON decoding) are printed without a fraction.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Entity:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
