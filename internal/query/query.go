// Package query routes typed lazy-load requests to a provider-supplied
// resolver. The router validates only that the requested type is among the
// declared scopes; conditions and field selections are opaque to it.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sebitommy123/SAP/internal/object"
)

// WildcardFields marks a scope exposing all fields of its type.
const WildcardFields = "*"

// Scope declares a queryable type and the fields it exposes.
// Fields is either an explicit ordered list or nil meaning the wildcard.
type Scope struct {
	Type   string
	Fields []string
}

// scopeWire is the JSON shape of a Scope: fields is either an array of
// names or the string "*".
type scopeWire struct {
	Type   string `json:"type"`
	Fields any    `json:"fields"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	w := scopeWire{Type: s.Type, Fields: any(WildcardFields)}
	if s.Fields != nil {
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
	switch v := w.Fields.(type) {
	case nil:
		// wildcard
	case string:
		if v != WildcardFields {
			return fmt.Errorf("query: scope fields must be a list or %q, got %q", WildcardFields, v)
		}
	case []any:
		fields := make([]string, 0, len(v))
		for _, e := range v {
			name, ok := e.(string)
			if !ok {
				return fmt.Errorf("query: scope field names must be strings, got %T", e)
			}
			fields = append(fields, name)
		}
		s.Fields = fields
	default:
		return fmt.Errorf("query: invalid scope fields value %v", v)
	}
	return nil
}

// Condition is a single (field, operator, value) filter. The operator is an
// opaque string interpreted entirely by the resolver, and the value keeps
// whatever JSON type the client sent (string, number, bool, list, object).
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// Request is one lazy-load invocation.
type Request struct {
	Scope      Scope
	Conditions []Condition
	PlanOnly   bool
}

// Result is the resolver's answer: the loaded objects plus a human-readable
// description of what was (or would be) done.
type Result struct {
	Objects []object.Object
	Plan    string
}

// Resolver loads objects on demand. When req.PlanOnly is set the resolver
// must perform no data access and return an empty object list with a
// descriptive plan. A resolver rejecting a request it considers malformed
// wraps ErrInvalidRequest; any other error is treated as a resolver failure.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, req Request) (Result, error)

func (f ResolverFunc) Resolve(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ErrInvalidRequest is the sentinel a resolver wraps to signal that the
// request shape is wrong (e.g. a required condition is missing), as opposed
// to the resolver itself failing.
var ErrInvalidRequest = errors.New("invalid lazy load request")

// UnsupportedTypeError reports a request for a type outside the declared scopes.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Type '%s' not supported for lazy loading", e.Type)
}

// Router dispatches requests to the resolver after a scope membership check.
// It holds no mutable state and is safe for concurrent use.
type Router struct {
	scopes   map[string]Scope
	resolver Resolver
}

// NewRouter builds a router over the declared scopes. A nil resolver means
// lazy loading is disabled; callers gate on HasResolver before routing.
func NewRouter(scopes []Scope, resolver Resolver) *Router {
	byType := make(map[string]Scope, len(scopes))
	for _, s := range scopes {
		byType[s.Type] = s
	}
	return &Router{scopes: byType, resolver: resolver}
}

// HasResolver reports whether a resolver was configured.
func (r *Router) HasResolver() bool {
	return r.resolver != nil
}

// Supports reports whether typeName is among the declared scopes.
func (r *Router) Supports(typeName string) bool {
	_, ok := r.scopes[typeName]
	return ok
}

// Route validates the request's type against the declared scopes and
// delegates to the resolver. The resolver's result is returned unchanged:
// no dedup, no caching, no reordering. Resolver error messages are surfaced
// verbatim to the caller.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	if !r.Supports(req.Scope.Type) {
		return Result{}, &UnsupportedTypeError{Type: req.Scope.Type}
	}
	res, err := r.resolver.Resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
