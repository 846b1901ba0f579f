package sap

import (
	"context"
	"io"
	"time"

	"github.com/sebitommy123/SAP/internal/object"
	"github.com/sebitommy123/SAP/internal/query"
)

// Object is a schemaless provider record. Every object carries three identity
// fields (`id`, `source`, `types`) plus arbitrary property values; the triple
// of identity fields is the dedupe key across the whole cache.
type Object map[string]any

// MakeObject builds an Object from its identity fields and properties.
// Identity keys appearing in properties are ignored in favour of the
// explicit arguments.
func MakeObject(id string, types []string, source string, properties map[string]any) Object {
	return Object(object.New(id, types, source, properties))
}

// ID returns the object's `id` identity field.
func (o Object) ID() string { return object.Object(o).ID() }

// Source returns the object's `source` identity field.
func (o Object) Source() string { return object.Object(o).Source() }

// Types returns the object's `types` identity field.
func (o Object) Types() []string { return object.Object(o).Types() }

// Timestamp encodes a point in time as a tagged property value.
func Timestamp(t time.Time) map[string]any { return object.Timestamp(t) }

// Link encodes a cross-object reference as a tagged property value. The query
// string addresses the target; text is the human-readable label.
func Link(linkQuery, text string) map[string]any { return object.Link(linkQuery, text) }

// LoadXML parses an XML document into one Object per element. Element ids are
// derived from the document path; rootID names the root element's object.
func LoadXML(r io.Reader, source, typeName, rootID string) ([]Object, error) {
	objs, err := object.FromXML(r, source, typeName, rootID)
	if err != nil {
		return nil, err
	}
	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = Object(o)
	}
	return out, nil
}

// FetchFunc produces the full dataset for one refresh cycle. It must honour
// ctx cancellation; results are validated and deduplicated before they replace
// the cached snapshot.
type FetchFunc func(ctx context.Context) ([]Object, error)

// Scope declares one lazily loadable type and the fields a resolver can
// populate for it. Nil Fields means all fields (serialized as "*").
type Scope struct {
	Type   string
	Fields []string
}

// Condition is a single [field, operator, value] filter on a query. Value
// carries the client's JSON value as decoded, so resolvers see numbers and
// lists as well as strings.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// QueryRequest is a lazy load request routed to the provider's resolver.
type QueryRequest struct {
	Scope      Scope
	Conditions []Condition
	PlanOnly   bool
}

// QueryResult is a resolver's answer: the fetched objects plus a
// human-readable description of what the resolver did (or would do,
// in plan-only mode).
type QueryResult struct {
	Objects []Object
	Plan    string
}

// Resolver answers lazy load queries for the types the provider declared.
// Implementations signal a malformed or unanswerable request by returning an
// error wrapping ErrInvalidRequest; any other error is treated as an internal
// resolver failure.
type Resolver interface {
	Resolve(ctx context.Context, req QueryRequest) (QueryResult, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, req QueryRequest) (QueryResult, error)

func (f ResolverFunc) Resolve(ctx context.Context, req QueryRequest) (QueryResult, error) {
	return f(ctx, req)
}

// ErrInvalidRequest marks a lazy load request the resolver understood but
// cannot answer (bad operator, unknown field, malformed value). Wrap it with
// fmt.Errorf and %w; the server maps it to a 400 response.
var ErrInvalidRequest = query.ErrInvalidRequest
