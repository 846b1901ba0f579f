// Package object defines the SA object shape shared by the interval cache and
// the lazy-load path: a JSON-compatible map with required identity fields,
// plus the tagged value types (timestamps, links) providers embed in it.
package object

import (
	"fmt"
	"strings"
	"time"
)

// Required fields every SA object must carry.
const (
	FieldID     = "id"
	FieldTypes  = "types"
	FieldSource = "source"
)

// TypeKey is the discriminator key for tagged values (timestamps, links).
const TypeKey = "$type"

// Object is a single SA object: a field-name to JSON-compatible value map.
// Objects are treated as immutable once a fetch has produced them.
type Object map[string]any

// New builds an Object from identity fields plus arbitrary properties.
// Property keys that collide with the identity fields are ignored.
func New(id string, types []string, source string, properties map[string]any) Object {
	obj := make(Object, len(properties)+3)
	for k, v := range properties {
		if k == FieldID || k == FieldTypes || k == FieldSource {
			continue
		}
		obj[k] = v
	}
	obj[FieldID] = id
	obj[FieldTypes] = append([]string(nil), types...)
	obj[FieldSource] = source
	return obj
}

// Timestamp encodes a point in time as a tagged value carrying nanoseconds
// since the Unix epoch.
func Timestamp(t time.Time) map[string]any {
	return map[string]any{
		TypeKey: "timestamp",
		"value": t.UnixNano(),
	}
}

// Link encodes a query-expression link with display text as a tagged value.
func Link(query, text string) map[string]any {
	return map[string]any{
		TypeKey: "link",
		"query": query,
		"text":  text,
	}
}

// ValidationError reports a malformed object within a fetched sequence.
type ValidationError struct {
	Index int    // position of the offending object in the input
	Field string // required field that is missing or has the wrong type
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("object: record %d: missing or invalid required field %q", e.Index, e.Field)
}

// ID returns the object's id field, or "" if absent.
func (o Object) ID() string {
	s, _ := o[FieldID].(string)
	return s
}

// Source returns the object's source field, or "" if absent.
func (o Object) Source() string {
	s, _ := o[FieldSource].(string)
	return s
}

// Types returns the object's types field as a string slice. Values arriving
// through a JSON decode ([]any of strings) are accepted; anything else
// returns nil.
func (o Object) Types() []string {
	switch v := o[FieldTypes].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}

// keySep separates key components. Field values containing it would collide,
// but ids and sources are caller-controlled identifiers, not free text.
const keySep = "\x1f"

// Key returns the dedup key (id, source, types as an ordered tuple).
func (o Object) Key() string {
	return o.ID() + keySep + o.Source() + keySep + strings.Join(o.Types(), keySep)
}

// Normalize validates required fields and coerces the types field into
// []string. It fails on the first malformed object; the caller treats that as
// a failure of the whole fetch attempt.
func Normalize(objs []Object) ([]Object, error) {
	for i, obj := range objs {
		if obj.ID() == "" {
			return nil, &ValidationError{Index: i, Field: FieldID}
		}
		if obj.Source() == "" {
			return nil, &ValidationError{Index: i, Field: FieldSource}
		}
		types := obj.Types()
		if types == nil {
			return nil, &ValidationError{Index: i, Field: FieldTypes}
		}
		obj[FieldTypes] = types
	}
	return objs, nil
}

// Dedupe keeps the first occurrence of each dedup key, preserving the
// relative order of kept objects. Inputs must already be normalized.
func Dedupe(objs []Object) []Object {
	seen := make(map[string]struct{}, len(objs))
	out := make([]Object, 0, len(objs))
	for _, obj := range objs {
		k := obj.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, obj)
	}
	return out
}
