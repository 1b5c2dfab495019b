package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/lmbridge/internal/hook"
	"github.com/hyperengineering/lmbridge/internal/pool"
)

// logCapture captures slog output for testing
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

func (c *logCapture) byLevel(level string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, e := range c.entries {
		if e["level"] == level {
			out = append(out, e)
		}
	}
	return out
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	capture := &logCapture{}
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(capture, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return capture
}

// openSQLite creates a database with an artists table holding the given names.
func openSQLite(t *testing.T, name string, artists ...string) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), name+".db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE artist (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	for i, a := range artists {
		db.MustExec(`INSERT INTO artist (id, name) VALUES (?, ?)`, i+1, a)
	}
	return db
}

func newRegistry(t *testing.T) *pool.Registry {
	t.Helper()
	primary := pool.New(pool.DefaultKey, pool.Target{DBName: "primary"}, openSQLite(t, "primary", "Autechre", "Boards of Canada"))
	replica := pool.New("replica", pool.Target{DBName: "replica"}, openSQLite(t, "replica", "Replica Artist"))
	reg, err := pool.NewRegistry(primary, replica)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func names(rows []hook.Row) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r["name"].(string))
	}
	return out
}

const selectArtists = `SELECT name FROM artist ORDER BY id`

type funcHook struct {
	name   string
	before func(ctx context.Context, sql string, args []any, qc *hook.QueryContext) (hook.BeforeResult, error)
	after  func(ctx context.Context, rows []hook.Row, qc *hook.QueryContext) (hook.Result[[]hook.Row], error)
}

func (f *funcHook) Name() string { return f.name }

type beforeHook struct{ *funcHook }

func (b beforeHook) BeforeQuery(ctx context.Context, sql string, args []any, qc *hook.QueryContext) (hook.BeforeResult, error) {
	return b.before(ctx, sql, args, qc)
}

type afterHook struct{ *funcHook }

func (a afterHook) AfterQuery(ctx context.Context, rows []hook.Row, qc *hook.QueryContext) (hook.Result[[]hook.Row], error) {
	return a.after(ctx, rows, qc)
}

func TestMapQuery_NoHooksEqualsBuiltIn(t *testing.T) {
	stage := New(newRegistry(t))

	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	got := names(rows)
	if len(got) != 2 || got[0] != "Autechre" || got[1] != "Boards of Canada" {
		t.Errorf("rows = %v, want [Autechre Boards of Canada]", got)
	}
}

func TestMapQuery_NoopHooksDropped(t *testing.T) {
	stage := New(newRegistry(t), hook.Noop{}, nil)
	if n := len(stage.HookNames()); n != 0 {
		t.Errorf("HookNames() len = %d, want 0", n)
	}
}

func TestMapQuery_RewriteSQL(t *testing.T) {
	h := beforeHook{&funcHook{name: "rewrite", before: func(_ context.Context, _ string, _ []any, _ *hook.QueryContext) (hook.BeforeResult, error) {
		return hook.Rewrite(`SELECT name FROM artist WHERE id = ?`, []any{2}), nil
	}}}
	stage := New(newRegistry(t), h)

	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if got := names(rows); len(got) != 1 || got[0] != "Boards of Canada" {
		t.Errorf("rows = %v, want [Boards of Canada]", got)
	}
}

func TestMapQuery_RedirectToRegisteredPool(t *testing.T) {
	h := beforeHook{&funcHook{name: "router", before: func(_ context.Context, sql string, args []any, _ *hook.QueryContext) (hook.BeforeResult, error) {
		return hook.Redirect(sql, args, "replica"), nil
	}}}
	stage := New(newRegistry(t), h)

	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if got := names(rows); len(got) != 1 || got[0] != "Replica Artist" {
		t.Errorf("rows = %v, want [Replica Artist]", got)
	}
}

func TestMapQuery_RedirectToUnknownPoolFails(t *testing.T) {
	capture := captureLogs(t)
	var afterCalled bool
	before := beforeHook{&funcHook{name: "router", before: func(_ context.Context, sql string, args []any, _ *hook.QueryContext) (hook.BeforeResult, error) {
		return hook.Redirect(sql, args, "ghost"), nil
	}}}
	after := afterHook{&funcHook{name: "after", after: func(_ context.Context, rows []hook.Row, _ *hook.QueryContext) (hook.Result[[]hook.Row], error) {
		afterCalled = true
		return hook.Unchanged[[]hook.Row](), nil
	}}}
	reg := newRegistry(t)
	stage := New(reg, before, after)

	// A write that would succeed on any registered pool proves nothing ran.
	_, err := stage.MapQuery(context.Background(), "musicbrainz", `INSERT INTO artist (id, name) VALUES (99, 'leak')`)

	if !errors.Is(err, pool.ErrPoolNotFound) {
		t.Fatalf("MapQuery() error = %v, want ErrPoolNotFound", err)
	}
	if afterCalled {
		t.Error("after hook ran for a failed query")
	}
	warns := capture.byLevel("WARN")
	if len(warns) != 1 || warns[0]["hook"] != "router" || warns[0]["pool"] != "ghost" {
		t.Errorf("warnings = %v, want one naming hook router and pool ghost", warns)
	}
	for _, key := range reg.Keys() {
		p, _ := reg.Resolve(key)
		var n int
		if err := p.DB().Get(&n, `SELECT COUNT(*) FROM artist WHERE id = 99`); err != nil {
			t.Fatalf("count on %s: %v", key, err)
		}
		if n != 0 {
			t.Errorf("pool %s executed the query", key)
		}
	}
}

func TestMapQuery_BeforeHookErrorIsContained(t *testing.T) {
	capture := captureLogs(t)
	h := beforeHook{&funcHook{name: "broken", before: func(_ context.Context, _ string, _ []any, qc *hook.QueryContext) (hook.BeforeResult, error) {
		qc.Extra["touched"] = true
		return hook.Redirect("SELECT 1", nil, "replica"), errors.New("boom")
	}}}
	stage := New(newRegistry(t), h)

	ctx := hook.WithSQLFile(context.Background(), "artist_search.sql")
	rows, err := stage.MapQuery(ctx, "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if got := names(rows); len(got) != 2 {
		t.Errorf("rows = %v, want the unhooked result", got)
	}

	errs := capture.byLevel("ERROR")
	if len(errs) != 1 {
		t.Fatalf("error log count = %d, want 1", len(errs))
	}
	if errs[0]["sql_file"] != "artist_search.sql" || errs[0]["provider"] != "musicbrainz" || errs[0]["hook"] != "broken" {
		t.Errorf("error log = %v, want sql_file, provider and hook attributes", errs[0])
	}
}

func TestMapQuery_PanickingHookIsContained(t *testing.T) {
	capture := captureLogs(t)
	h := afterHook{&funcHook{name: "panics", after: func(_ context.Context, rows []hook.Row, _ *hook.QueryContext) (hook.Result[[]hook.Row], error) {
		rows[0]["name"] = "mutated"
		panic("bad hook")
	}}}
	stage := New(newRegistry(t), h)

	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if got := names(rows); got[0] != "Autechre" {
		t.Errorf("rows = %v, partial mutation leaked", got)
	}
	if n := len(capture.byLevel("ERROR")); n != 1 {
		t.Errorf("error log count = %d, want 1", n)
	}
}

func TestMapQuery_InvalidBeforeResultWarns(t *testing.T) {
	capture := captureLogs(t)
	h := beforeHook{&funcHook{name: "sloppy", before: func(_ context.Context, _ string, _ []any, _ *hook.QueryContext) (hook.BeforeResult, error) {
		return hook.Redirect("", nil, ""), nil
	}}}
	stage := New(newRegistry(t), h)

	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows len = %d, want 2", len(rows))
	}
	if n := len(capture.byLevel("WARN")); n != 1 {
		t.Errorf("warn log count = %d, want 1", n)
	}
	if n := len(capture.byLevel("ERROR")); n != 0 {
		t.Errorf("error log count = %d, want 0", n)
	}
}

func TestMapQuery_AfterHookReplacement(t *testing.T) {
	tests := []struct {
		name   string
		result hook.Result[[]hook.Row]
		want   []string
	}{
		{"unchanged keeps rows", hook.Unchanged[[]hook.Row](), []string{"Autechre", "Boards of Canada"}},
		{"replacement drops unmentioned rows", hook.Replaced([]hook.Row{{"name": "Only"}}), []string{"Only"}},
		{"empty replacement", hook.Replaced([]hook.Row{}), nil},
		{"nil replacement", hook.Replaced[[]hook.Row](nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := afterHook{&funcHook{name: "after", after: func(_ context.Context, _ []hook.Row, _ *hook.QueryContext) (hook.Result[[]hook.Row], error) {
				return tt.result, nil
			}}}
			stage := New(newRegistry(t), h)

			rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)
			if err != nil {
				t.Fatalf("MapQuery() error = %v", err)
			}
			if rows == nil {
				t.Fatal("rows = nil, want non-nil slice")
			}
			got := names(rows)
			if len(got) != len(tt.want) {
				t.Fatalf("rows = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("rows[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMapQuery_ChainThreadsContext(t *testing.T) {
	// Given a built-in hook that redirects and records a marker
	first := beforeHook{&funcHook{name: "first", before: func(_ context.Context, sql string, args []any, qc *hook.QueryContext) (hook.BeforeResult, error) {
		qc.Extra["seen"] = "first"
		return hook.Redirect(sql, args, "replica"), nil
	}}}
	// And a custom hook that observes the state left by the first
	var sawPool string
	var sawExtra any
	second := beforeHook{&funcHook{name: "second", before: func(_ context.Context, _ string, _ []any, qc *hook.QueryContext) (hook.BeforeResult, error) {
		sawPool = qc.PoolKey
		sawExtra = qc.Extra["seen"]
		return hook.Keep(), nil
	}}}

	// When a query runs
	stage := New(newRegistry(t), first, second)
	rows, err := stage.MapQuery(context.Background(), "musicbrainz", selectArtists)

	// Then the second hook starts from the first hook's pool and side channel
	if err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if sawPool != "replica" {
		t.Errorf("second hook PoolKey = %q, want replica", sawPool)
	}
	if sawExtra != "first" {
		t.Errorf("second hook Extra[seen] = %v, want first", sawExtra)
	}
	if got := names(rows); len(got) != 1 || got[0] != "Replica Artist" {
		t.Errorf("rows = %v, want [Replica Artist]", got)
	}
}

func TestMapQuery_SQLFileVisibleToHooks(t *testing.T) {
	var sqlFile string
	h := afterHook{&funcHook{name: "spy", after: func(_ context.Context, _ []hook.Row, qc *hook.QueryContext) (hook.Result[[]hook.Row], error) {
		sqlFile = qc.SQLFile
		return hook.Unchanged[[]hook.Row](), nil
	}}}
	stage := New(newRegistry(t), h)

	ctx := hook.WithSQLFile(context.Background(), "release_group_by_id.sql")
	if _, err := stage.MapQuery(ctx, "musicbrainz", selectArtists); err != nil {
		t.Fatalf("MapQuery() error = %v", err)
	}
	if sqlFile != "release_group_by_id.sql" {
		t.Errorf("SQLFile = %q, want release_group_by_id.sql", sqlFile)
	}
}

func TestMapQuery_ExecutionErrorSurfaces(t *testing.T) {
	stage := New(newRegistry(t))
	if _, err := stage.MapQuery(context.Background(), "musicbrainz", `SELECT nope FROM missing`); err == nil {
		t.Error("MapQuery() error = nil, want execution error")
	}
}
