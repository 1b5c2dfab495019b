package hook

import "fmt"

// Result is the outcome of an after-query or payload hook: either the input
// is kept unchanged or it is replaced in full.
//
// Replaced(nil) and Replaced of an empty slice are real replacements, not
// "no change".
type Result[T any] struct {
	replaced bool
	value    T
}

// Unchanged keeps the input as it is.
func Unchanged[T any]() Result[T] {
	return Result[T]{}
}

// Replaced replaces the input with v.
func Replaced[T any](v T) Result[T] {
	return Result[T]{replaced: true, value: v}
}

// Get returns the replacement value and whether there is one.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.replaced
}

type beforeKind int

const (
	beforeKeep beforeKind = iota
	beforeRewrite
	beforeRedirect
)

// BeforeResult is the outcome of a before-query hook. The zero value keeps
// the query unchanged.
type BeforeResult struct {
	kind    beforeKind
	sql     string
	args    []any
	poolKey string
}

// Keep leaves SQL, arguments and pool unchanged.
func Keep() BeforeResult {
	return BeforeResult{kind: beforeKeep}
}

// Rewrite replaces SQL and arguments; the pool is unchanged.
func Rewrite(sql string, args []any) BeforeResult {
	return BeforeResult{kind: beforeRewrite, sql: sql, args: args}
}

// Redirect replaces SQL and arguments and routes the query to poolKey.
func Redirect(sql string, args []any, poolKey string) BeforeResult {
	return BeforeResult{kind: beforeRedirect, sql: sql, args: args, poolKey: poolKey}
}

// Changed reports whether the result rewrites the query.
func (r BeforeResult) Changed() bool {
	return r.kind != beforeKeep
}

// SQL returns the rewritten statement.
func (r BeforeResult) SQL() string { return r.sql }

// Args returns the rewritten arguments.
func (r BeforeResult) Args() []any { return r.args }

// PoolKey returns the requested pool, empty when the pool is unchanged.
func (r BeforeResult) PoolKey() string { return r.poolKey }

// Validate reports a contract violation for results that cannot be applied.
func (r BeforeResult) Validate() error {
	switch r.kind {
	case beforeKeep:
		return nil
	case beforeRewrite:
		if r.sql == "" {
			return fmt.Errorf("%w: rewrite with empty SQL", ErrContractViolation)
		}
		return nil
	case beforeRedirect:
		if r.sql == "" {
			return fmt.Errorf("%w: redirect with empty SQL", ErrContractViolation)
		}
		if r.poolKey == "" {
			return fmt.Errorf("%w: redirect with empty pool key", ErrContractViolation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown result kind %d", ErrContractViolation, r.kind)
	}
}
