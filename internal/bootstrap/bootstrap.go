// Package bootstrap provisions the cache store before the server starts.
//
// Every step is idempotent and the whole procedure is safe to re-run on each
// deployment. It is not safe to run two instances against the same cache
// database at once.
//
// Steps, in order: wait for the database, migrate legacy role ownership,
// ensure the cache role, database and schema, apply the mirror index script
// and provision the cache tables. A table provisioning failure writes a
// marker file that the server consults at startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/pool"
)

// Opener opens a database handle for a target. Connections may be lazy.
type Opener func(t pool.Target) (*sqlx.DB, error)

func openPostgres(t pool.Target) (*sqlx.DB, error) {
	db, err := sqlx.Open(pool.DriverName, t.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

// Runner executes one bootstrap run.
type Runner struct {
	cfg  *config.Config
	open Opener
	now  func() time.Time

	report  Report
	handles map[string]*sqlx.DB
}

// NewRunner creates a runner for cfg that connects with lib/pq.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg, open: openPostgres, now: time.Now}
}

// WithOpener replaces how database handles are opened.
func (r *Runner) WithOpener(open Opener) *Runner {
	r.open = open
	return r
}

// Run bootstraps the cache store described by cfg.
func Run(ctx context.Context, cfg *config.Config) (Report, error) {
	return NewRunner(cfg).Run(ctx)
}

type step struct {
	done State
	name string
	run  func(ctx context.Context) error
}

// Run executes every step. On a provisioning failure with fail-open
// configured it returns a nil error and a degraded report; the marker is
// written either way.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	r.report = Report{RunID: ulid.Make().String(), State: NotStarted, Started: r.now().UTC()}
	r.handles = map[string]*sqlx.DB{}
	defer r.closeAll()

	log := slog.With("component", "bootstrap", "run_id", r.report.RunID)
	log.Info("cache bootstrap started",
		"action", "bootstrap_started",
		"cache_db", r.cfg.Cache.Name,
		"cache_role", r.cfg.Cache.User,
		"schema", r.schema(),
	)

	if err := r.waitForDatabase(ctx); err != nil {
		log.Error("database unreachable", "action", "wait_failed", "error", err)
		return r.finish(), err
	}

	steps := []step{
		{RoleMigrated, "legacy_role_migration", r.migrateLegacyRoles},
		{RoleEnsured, "ensure_role", r.ensureRole},
		{DbEnsured, "ensure_database", r.ensureDatabase},
		{SchemaEnsured, "ensure_schema", r.ensureSchema},
		{MirrorIndexed, "mirror_indexes", r.applyIndexScript},
		{TablesEnsured, "cache_tables", r.ensureTables},
	}

	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			if errors.Is(err, ErrCacheProvisioning) {
				return r.provisioningFailed(err)
			}
			log.Error("bootstrap step failed",
				"action", "step_failed",
				"step", s.name,
				"last_state", r.report.State.String(),
				"error", err,
			)
			return r.finish(), fmt.Errorf("%s: %w", s.name, err)
		}
		r.report.State = s.done
		log.Info("bootstrap step completed", "action", "step_completed", "step", s.name, "state", s.done.String())
	}

	if err := ClearMarker(r.cfg.Cache.StateDir); err != nil {
		r.warn("could not remove stale marker", "error", err)
	}
	r.report.State = Done
	log.Info("cache bootstrap completed",
		"action", "bootstrap_completed",
		"warnings", len(r.report.Warnings),
		"migrated_roles", r.report.MigratedRoles,
	)
	return r.finish(), nil
}

func (r *Runner) provisioningFailed(err error) (Report, error) {
	hint := GrantHint(err, r.schema(), r.cfg.Cache.User)
	m := &Marker{
		State: r.report.State.String(),
		Error: err.Error(),
		Hint:  hint,
		Time:  r.now().UTC(),
		RunID: r.report.RunID,
	}
	if werr := WriteMarker(r.cfg.Cache.StateDir, m); werr != nil {
		slog.Error("could not write cache-init marker",
			"component", "bootstrap",
			"path", MarkerPath(r.cfg.Cache.StateDir),
			"error", werr,
		)
	}

	attrs := []any{
		"component", "bootstrap",
		"action", "tables_failed",
		"run_id", r.report.RunID,
		"last_state", r.report.State.String(),
		"fail_open", r.cfg.Cache.FailOpen,
		"marker", MarkerPath(r.cfg.Cache.StateDir),
		"error", err,
	}
	if hint != "" {
		attrs = append(attrs, "hint", hint)
	}

	if r.cfg.Cache.FailOpen {
		slog.Warn("cache table provisioning failed; server will start with caching disabled", attrs...)
		r.report.Degraded = true
		r.report.ProvisioningErr = err
		return r.finish(), nil
	}
	slog.Error("cache table provisioning failed", attrs...)
	return r.finish(), err
}

func (r *Runner) finish() Report {
	r.report.Finished = r.now().UTC()
	return r.report
}

func (r *Runner) warn(msg string, args ...any) {
	r.report.Warnings = append(r.report.Warnings, msg)
	slog.Warn(msg, append([]any{"component", "bootstrap", "run_id", r.report.RunID}, args...)...)
}

// schema returns the schema cache tables live in.
func (r *Runner) schema() string {
	if r.cfg.Cache.Schema == "" {
		return "public"
	}
	return r.cfg.Cache.Schema
}

// conn returns a cached handle for target, opening it on first use.
func (r *Runner) conn(t pool.Target) (*sqlx.DB, error) {
	key := t.String()
	if db, ok := r.handles[key]; ok {
		return db, nil
	}
	db, err := r.open(t)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t, err)
	}
	r.handles[key] = db
	return db, nil
}

func (r *Runner) closeAll() {
	for _, db := range r.handles {
		_ = db.Close()
	}
	r.handles = nil
}

// adminTarget connects as the administrative role to db on the cache server.
func (r *Runner) adminTarget(db string) pool.Target {
	return pool.Target{
		Host:     r.cfg.CacheHost(),
		Port:     r.cfg.CachePort(),
		User:     r.cfg.Bootstrap.AdminUser,
		Password: r.cfg.Bootstrap.AdminPassword,
		DBName:   db,
		SSLMode:  r.cfg.Database.SSLMode,
	}
}

// cacheRoleTarget connects as the cache role to the cache database.
func (r *Runner) cacheRoleTarget() pool.Target {
	return pool.Target{
		Host:     r.cfg.CacheHost(),
		Port:     r.cfg.CachePort(),
		User:     r.cfg.Cache.User,
		Password: r.cfg.Cache.Password,
		DBName:   r.cfg.Cache.Name,
		SSLMode:  r.cfg.Database.SSLMode,
	}
}

// mirrorTarget connects to the primary metadata mirror with its own credentials.
func (r *Runner) mirrorTarget() pool.Target {
	return pool.Target{
		Host:     r.cfg.Database.Host,
		Port:     r.cfg.Database.Port,
		User:     r.cfg.Database.User,
		Password: r.cfg.Database.Password,
		DBName:   r.cfg.Database.Name,
		SSLMode:  r.cfg.Database.SSLMode,
	}
}
