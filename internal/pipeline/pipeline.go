// Package pipeline runs mirror queries through the query hook chain.
//
// Per query the stage moves through built-in hooks, custom before-hooks,
// execution against the selected pool and after-hooks. A hook that fails is
// logged and its effect discarded; the query continues with the data as it
// stood before that hook ran. Only an unknown pool key fails the query.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/lmbridge/internal/hook"
	"github.com/hyperengineering/lmbridge/internal/pool"
)

// Stage executes queries against a pool registry with a fixed hook chain.
// It holds no per-query state and is safe for concurrent use.
type Stage struct {
	pools *pool.Registry
	hooks []hook.QueryHook
}

// New creates a stage. Hooks run in the order given; built-in hooks go first.
// Hooks without a capability, including hook.Noop, are dropped.
func New(pools *pool.Registry, hooks ...hook.QueryHook) *Stage {
	s := &Stage{pools: pools}
	for _, h := range hooks {
		if h == nil || !hook.HasQueryCapability(h) {
			continue
		}
		s.hooks = append(s.hooks, h)
	}
	return s
}

// HookNames returns the names of the active hooks in execution order.
func (s *Stage) HookNames() []string {
	names := make([]string, 0, len(s.hooks))
	for _, h := range s.hooks {
		names = append(names, h.Name())
	}
	return names
}

// MapQuery runs sql with args and returns the rows as column maps. The SQL
// template name, if any, is read from ctx (see hook.WithSQLFile).
//
// Errors are limited to pool resolution and query execution; hook failures
// never reach the caller.
func (s *Stage) MapQuery(ctx context.Context, provider, sql string, args ...any) ([]hook.Row, error) {
	qc := &hook.QueryContext{
		ID:       ulid.Make().String(),
		Provider: provider,
		SQL:      sql,
		Args:     args,
		SQLFile:  hook.SQLFileFromContext(ctx),
		PoolKey:  pool.DefaultKey,
		Extra:    map[string]any{},
	}

	for _, h := range s.hooks {
		if b, ok := h.(hook.BeforeQuerier); ok {
			s.runBefore(ctx, h.Name(), b, qc)
		}
	}

	p, err := s.pools.Resolve(qc.PoolKey)
	if err != nil {
		slog.Error("query routed to unknown pool",
			"component", "pipeline",
			"action", "pool_resolve_failed",
			"pool", qc.PoolKey,
			"provider", qc.Provider,
			"sql_file", qc.SQLFile,
			"query_id", qc.ID,
		)
		return nil, err
	}

	rows, err := queryRows(ctx, p.DB(), qc.SQL, qc.Args)
	if err != nil {
		return nil, fmt.Errorf("query %s on pool %s: %w", describe(qc), p.Key(), err)
	}

	for _, h := range s.hooks {
		if a, ok := h.(hook.AfterQuerier); ok {
			rows = s.runAfter(ctx, h.Name(), a, rows, qc)
		}
	}

	return rows, nil
}

// runBefore applies one before-hook to qc. On any failure qc is left as it was.
func (s *Stage) runBefore(ctx context.Context, name string, h hook.BeforeQuerier, qc *hook.QueryContext) {
	scratch := qc.Clone()

	res, err := callBefore(ctx, h, scratch)
	if err != nil {
		logHookFailure("before_query", name, qc, err)
		return
	}
	if err := res.Validate(); err != nil {
		slog.Warn("before_query result ignored",
			"component", "pipeline",
			"stage", "before_query",
			"hook", name,
			"provider", qc.Provider,
			"sql_file", qc.SQLFile,
			"query_id", qc.ID,
			"error", err,
		)
		return
	}

	qc.Extra = scratch.Extra
	if !res.Changed() {
		return
	}
	qc.SQL = res.SQL()
	qc.Args = res.Args()
	if key := res.PoolKey(); key != "" {
		slog.Debug("query redirected",
			"component", "pipeline",
			"action", "pool_redirect",
			"hook", name,
			"from", qc.PoolKey,
			"to", key,
			"query_id", qc.ID,
		)
		if !s.pools.Has(key) {
			slog.Warn("hook redirected to an unregistered pool",
				"component", "pipeline",
				"action", "pool_unknown",
				"hook", name,
				"pool", key,
				"provider", qc.Provider,
				"sql_file", qc.SQLFile,
				"query_id", qc.ID,
			)
		}
		qc.PoolKey = key
	}
}

// runAfter applies one after-hook. On failure the rows passed in are returned.
func (s *Stage) runAfter(ctx context.Context, name string, h hook.AfterQuerier, rows []hook.Row, qc *hook.QueryContext) []hook.Row {
	scratch := qc.Clone()

	res, err := callAfter(ctx, h, cloneRows(rows), scratch)
	if err != nil {
		logHookFailure("after_query", name, qc, err)
		return rows
	}

	qc.Extra = scratch.Extra
	replaced, ok := res.Get()
	if !ok {
		return rows
	}
	if replaced == nil {
		replaced = []hook.Row{}
	}
	return replaced
}

func callBefore(ctx context.Context, h hook.BeforeQuerier, qc *hook.QueryContext) (res hook.BeforeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.PanicError{Value: r}
		}
	}()
	return h.BeforeQuery(ctx, qc.SQL, qc.Args, qc)
}

func callAfter(ctx context.Context, h hook.AfterQuerier, rows []hook.Row, qc *hook.QueryContext) (res hook.Result[[]hook.Row], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.PanicError{Value: r}
		}
	}()
	return h.AfterQuery(ctx, rows, qc)
}

func logHookFailure(stage, name string, qc *hook.QueryContext, err error) {
	slog.Error("query hook failed",
		"component", "pipeline",
		"stage", stage,
		"hook", name,
		"provider", qc.Provider,
		"sql_file", qc.SQLFile,
		"query_id", qc.ID,
		"error", err,
	)
}

func describe(qc *hook.QueryContext) string {
	if qc.SQLFile != "" {
		return qc.SQLFile
	}
	return qc.Provider
}
