package sapclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Object is a schemaless provider record. The identity fields `id`, `source`
// and `types` are always present on objects returned by a well-behaved
// provider.
type Object map[string]any

// ID returns the object's `id` identity field, or "" when absent.
func (o Object) ID() string {
	s, _ := o["id"].(string)
	return s
}

// Source returns the object's `source` identity field, or "" when absent.
func (o Object) Source() string {
	s, _ := o["source"].(string)
	return s
}

// Types returns the object's `types` identity field. JSON decoding yields
// []any, which is coerced here.
func (o Object) Types() []string {
	raw, ok := o["types"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Scope declares one lazily loadable type and its fields. Nil Fields means
// all fields; it is serialized as the string "*".
type Scope struct {
	Type   string
	Fields []string
}

type scopeWire struct {
	Type   string `json:"type"`
	Fields any    `json:"fields"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	w := scopeWire{Type: s.Type}
	if s.Fields == nil {
		w.Fields = "*"
	} else {
		w.Fields = s.Fields
	}
	return json.Marshal(w)
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var w scopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Type = w.Type
	s.Fields = nil
	switch f := w.Fields.(type) {
	case nil:
	case string:
		if f != "*" {
			return fmt.Errorf("sapclient: scope fields must be a list or %q, got %q", "*", f)
		}
	case []any:
		fields := make([]string, 0, len(f))
		for _, v := range f {
			fs, ok := v.(string)
			if !ok {
				return fmt.Errorf("sapclient: scope field must be a string, got %T", v)
			}
			fields = append(fields, fs)
		}
		s.Fields = fields
	default:
		return fmt.Errorf("sapclient: scope fields must be a list or %q, got %T", "*", w.Fields)
	}
	return nil
}

// Condition is a [field, operator, value] filter, serialized as a JSON
// array. The value element may be any JSON type, not just a string.
type Condition [3]any

// HelloResponse is the provider metadata from GET /hello.
type HelloResponse struct {
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Version           string  `json:"version"`
	LazyLoadingScopes []Scope `json:"lazy_loading_scopes"`
}

// StatusResponse is the refresh cycle state from GET /status.
type StatusResponse struct {
	LastStartedAt       *time.Time `json:"last_started_at"`
	LastCompletedAt     *time.Time `json:"last_completed_at"`
	LastError           *string    `json:"last_error"`
	InFlight            bool       `json:"in_flight"`
	IntervalSeconds     float64    `json:"interval_seconds"`
	FetchTimeoutSeconds float64    `json:"fetch_timeout_seconds"`
	Count               int        `json:"count"`
}

// HealthResponse is the liveness report from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// LazyLoadRequest is a query posted to /lazy_load.
type LazyLoadRequest struct {
	Scope      Scope       `json:"scope"`
	Conditions []Condition `json:"conditions,omitempty"`
	PlanOnly   bool        `json:"plan_only,omitempty"`
}

// LazyLoadResponse holds the resolver's objects and its plan description.
type LazyLoadResponse struct {
	Objects []Object `json:"sa_objects"`
	Plan    string   `json:"plan"`
}
