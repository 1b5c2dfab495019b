// Package hook defines the extension points that run after built-in
// processing: query hooks around every mirror query and response hooks
// around every outgoing JSON payload.
//
// A hook is a capability set. QueryHook and ResponseHook only carry a name;
// the optional BeforeQuerier, AfterQuerier and PayloadTransformer interfaces
// are discovered by type assertion. A hook that implements none of them is
// treated as absent.
package hook

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"slices"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// QueryHook is a named query hook. Implement BeforeQuerier and/or AfterQuerier
// to take part in the pipeline.
type QueryHook interface {
	Name() string
}

// BeforeQuerier may rewrite the SQL and arguments of a query, and may route
// it to another registered pool.
type BeforeQuerier interface {
	BeforeQuery(ctx context.Context, sql string, args []any, qc *QueryContext) (BeforeResult, error)
}

// AfterQuerier may replace the result rows of a query.
type AfterQuerier interface {
	AfterQuery(ctx context.Context, rows []Row, qc *QueryContext) (Result[[]Row], error)
}

// ResponseHook is a named response hook. Implement PayloadTransformer to take part.
type ResponseHook interface {
	Name() string
}

// PayloadTransformer may replace a decoded JSON response payload. Numbers in
// payload arrive as json.Number.
type PayloadTransformer interface {
	TransformPayload(ctx context.Context, payload any, rc *ResponseContext) (Result[any], error)
}

// Noop is the null hook. It has a name and no capabilities.
type Noop struct{}

// Name implements QueryHook and ResponseHook.
func (Noop) Name() string { return "noop" }

// QueryContext describes one query invocation. It is created per query and
// discarded when the query completes.
type QueryContext struct {
	// ID correlates log lines for one query.
	ID string
	// Provider is the logical owner of the query.
	Provider string
	// SQL and Args are the current statement; before-hooks see the output
	// of earlier before-hooks.
	SQL  string
	Args []any
	// SQLFile is the query template name, empty when the query was not loaded from a file.
	SQLFile string
	// PoolKey is the pool the query runs against.
	PoolKey string
	// Extra is an open side channel between hooks of the same invocation.
	Extra map[string]any
}

// Clone returns a copy whose Args and Extra can be changed independently.
func (qc *QueryContext) Clone() *QueryContext {
	c := *qc
	c.Args = slices.Clone(qc.Args)
	c.Extra = maps.Clone(qc.Extra)
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	return &c
}

// ResponseContext describes the request whose response is being transformed.
type ResponseContext struct {
	Path    string
	Method  string
	Query   url.Values
	Headers http.Header
	Extra   map[string]any
}

// Clone returns a copy whose maps can be changed independently.
func (rc *ResponseContext) Clone() *ResponseContext {
	c := *rc
	c.Query = cloneValues(rc.Query)
	c.Headers = rc.Headers.Clone()
	c.Extra = maps.Clone(rc.Extra)
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	return &c
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = slices.Clone(vs)
	}
	return out
}

// HasQueryCapability reports whether h implements BeforeQuerier or AfterQuerier.
func HasQueryCapability(h QueryHook) bool {
	_, before := h.(BeforeQuerier)
	_, after := h.(AfterQuerier)
	return before || after
}

// HasResponseCapability reports whether h implements PayloadTransformer.
func HasResponseCapability(h ResponseHook) bool {
	_, ok := h.(PayloadTransformer)
	return ok
}
