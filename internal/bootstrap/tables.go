package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/hyperengineering/lmbridge/internal/cache"
)

// applyIndexScript runs the configured mirror index script with every
// CREATE INDEX made idempotent. Statements that fail are logged and skipped.
func (r *Runner) applyIndexScript(ctx context.Context) error {
	path := r.cfg.Bootstrap.IndexScript
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: index script %s", ErrMissingSQL, path)
		}
		return fmt.Errorf("read index script: %w", err)
	}

	mirror, err := r.conn(r.mirrorTarget())
	if err != nil {
		return err
	}

	statements := SplitStatements(RewriteIndexStatements(string(raw)))
	applied := 0
	for i, stmt := range statements {
		if _, err := mirror.ExecContext(ctx, stmt); err != nil {
			r.warn("index statement failed", "script", path, "statement", i+1, "error", err)
			continue
		}
		applied++
	}
	slog.Info("mirror index script applied",
		"component", "bootstrap",
		"action", "indexes_applied",
		"run_id", r.report.RunID,
		"script", path,
		"applied", applied,
		"total", len(statements),
	)
	return nil
}

// ensureTables provisions the cache tables as the cache role so the role
// owns what it creates. Every failure here is a provisioning failure.
func (r *Runner) ensureTables(ctx context.Context) error {
	if err := r.provisionTables(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheProvisioning, err)
	}
	return nil
}

func (r *Runner) provisionTables(ctx context.Context) error {
	db, err := r.conn(r.cacheRoleTarget())
	if err != nil {
		return err
	}
	schema := r.schema()
	role := r.cfg.Cache.User

	var fn int
	err = db.GetContext(ctx, &fn,
		`SELECT count(*) FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace
		 WHERE p.proname = $1 AND n.nspname = $2`, triggerFunction, schema)
	if err != nil {
		return fmt.Errorf("look up trigger function: %w", err)
	}
	if fn == 0 {
		if _, err := db.ExecContext(ctx, createTriggerFunctionSQL(schema)); err != nil {
			return fmt.Errorf("create trigger function: %w", err)
		}
	}

	for _, table := range cache.Tables {
		if _, err := db.ExecContext(ctx, createCacheTableSQL(schema, table)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}

		var owner string
		err := db.GetContext(ctx, &owner,
			`SELECT tableowner FROM pg_tables WHERE schemaname = $1 AND tablename = $2`, schema, table)
		if err != nil {
			return fmt.Errorf("table owner %s: %w", table, err)
		}
		if owner != role {
			r.warn("cache table owned by another role; skipping index and trigger maintenance",
				"table", table, "owner", owner, "role", role)
			continue
		}

		if err := maintainTable(ctx, db, schema, table); err != nil {
			return fmt.Errorf("maintain table %s: %w", table, err)
		}
	}
	return nil
}

// maintainTable creates the indexes and replaces the update trigger. The
// trigger is swapped inside a transaction so no writer sees the table
// without it.
func maintainTable(ctx context.Context, db *sqlx.DB, schema, table string) error {
	for _, stmt := range []string{
		createExpiresIndexSQL(schema, table),
		createUpdatedIndexSQL(schema, table),
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, dropTriggerSQL(schema, table)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createTriggerSQL(schema, table)); err != nil {
		return err
	}
	return tx.Commit()
}
