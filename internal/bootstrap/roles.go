package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hyperengineering/lmbridge/internal/cache"
)

// ownership lists what a legacy role owns in the cache database.
type ownership struct {
	database bool
	schema   bool
	tables   []string
	function bool
}

func (o ownership) any() bool {
	return o.database || o.schema || len(o.tables) > 0 || o.function
}

func roleExists(ctx context.Context, db *sqlx.DB, role string) (bool, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT count(*) FROM pg_roles WHERE rolname = $1`, role); err != nil {
		return false, fmt.Errorf("look up role %s: %w", role, err)
	}
	return n > 0, nil
}

func databaseExists(ctx context.Context, db *sqlx.DB, name string) (bool, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT count(*) FROM pg_database WHERE datname = $1`, name); err != nil {
		return false, fmt.Errorf("look up database %s: %w", name, err)
	}
	return n > 0, nil
}

// legacyOwnership inspects the catalogs for objects owned by role. The cache
// database is only inspected when it exists.
func (r *Runner) legacyOwnership(ctx context.Context, admin *sqlx.DB, role string, cacheDBExists bool) (ownership, error) {
	var o ownership

	var dbOwner string
	err := admin.GetContext(ctx, &dbOwner,
		`SELECT pg_get_userbyid(datdba) FROM pg_database WHERE datname = $1`, r.cfg.Cache.Name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("database owner: %w", err)
	}
	o.database = dbOwner == role
	if !cacheDBExists {
		return o, nil
	}

	cacheDB, err := r.conn(r.adminTarget(r.cfg.Cache.Name))
	if err != nil {
		return o, err
	}

	var schemaOwner string
	err = cacheDB.GetContext(ctx, &schemaOwner,
		`SELECT pg_get_userbyid(nspowner) FROM pg_namespace WHERE nspname = $1`, r.schema())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("schema owner: %w", err)
	}
	o.schema = schemaOwner == role

	err = cacheDB.SelectContext(ctx, &o.tables,
		`SELECT tablename FROM pg_tables WHERE schemaname = $1 AND tableowner = $2 AND tablename = ANY($3) ORDER BY tablename`,
		r.schema(), role, pq.Array(cache.Tables))
	if err != nil {
		return o, fmt.Errorf("table owners: %w", err)
	}

	var fn int
	err = cacheDB.GetContext(ctx, &fn,
		`SELECT count(*) FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace
		 WHERE p.proname = $1 AND n.nspname = $2 AND pg_get_userbyid(p.proowner) = $3`,
		triggerFunction, r.schema(), role)
	if err != nil {
		return o, fmt.Errorf("function owner: %w", err)
	}
	o.function = fn > 0

	return o, nil
}

// migrateLegacyRoles hands every cache object owned by a legacy role to the
// configured cache role. If the cache role does not exist yet the legacy
// role is renamed, which keeps its grants. Otherwise ownership is reassigned
// and the cache role's password is reset so repeated runs converge.
func (r *Runner) migrateLegacyRoles(ctx context.Context) error {
	desired := r.cfg.Cache.User
	admin, err := r.conn(r.adminTarget(r.cfg.Bootstrap.AdminDB))
	if err != nil {
		return err
	}
	cacheDBExists, err := databaseExists(ctx, admin, r.cfg.Cache.Name)
	if err != nil {
		return err
	}

	for _, legacy := range r.cfg.Bootstrap.LegacyRoles {
		if legacy == "" || legacy == desired {
			continue
		}
		exists, err := roleExists(ctx, admin, legacy)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		owned, err := r.legacyOwnership(ctx, admin, legacy, cacheDBExists)
		if err != nil {
			return err
		}
		if !owned.any() {
			continue
		}

		desiredExists, err := roleExists(ctx, admin, desired)
		if err != nil {
			return err
		}

		log := slog.With("component", "bootstrap", "run_id", r.report.RunID, "legacy_role", legacy, "role", desired)
		if !desiredExists {
			log.Info("renaming legacy cache role", "action", "role_renamed")
			if _, err := admin.ExecContext(ctx, renameRoleSQL(legacy, desired)); err != nil {
				return fmt.Errorf("rename role %s: %w", legacy, err)
			}
			// Renaming a role clears an MD5 password.
			if _, err := admin.ExecContext(ctx, setRolePasswordSQL(desired, r.cfg.Cache.Password)); err != nil {
				return fmt.Errorf("set password for %s: %w", desired, err)
			}
			r.report.MigratedRoles = append(r.report.MigratedRoles, legacy)
			continue
		}

		log.Info("reassigning legacy cache ownership", "action", "ownership_reassigned",
			"database", owned.database, "schema", owned.schema, "tables", owned.tables, "function", owned.function)
		if err := r.reassign(ctx, admin, legacy, desired, owned); err != nil {
			return err
		}
		if _, err := admin.ExecContext(ctx, setRolePasswordSQL(desired, r.cfg.Cache.Password)); err != nil {
			return fmt.Errorf("set password for %s: %w", desired, err)
		}
		r.report.MigratedRoles = append(r.report.MigratedRoles, legacy)
	}
	return nil
}

// reassign moves ownership database, then schema, then everything else.
// Table ownership is required for index and trigger maintenance, so a table
// that cannot be transferred fails the step. The trigger function only warns.
func (r *Runner) reassign(ctx context.Context, admin *sqlx.DB, legacy, desired string, owned ownership) error {
	if owned.database {
		if _, err := admin.ExecContext(ctx, alterDatabaseOwnerSQL(r.cfg.Cache.Name, desired)); err != nil {
			return fmt.Errorf("transfer database: %w", err)
		}
	}
	if !owned.schema && len(owned.tables) == 0 && !owned.function {
		return nil
	}

	cacheDB, err := r.conn(r.adminTarget(r.cfg.Cache.Name))
	if err != nil {
		return err
	}
	if owned.schema {
		if _, err := cacheDB.ExecContext(ctx, alterSchemaOwnerSQL(r.schema(), desired)); err != nil {
			return fmt.Errorf("transfer schema: %w", err)
		}
	}

	_, err = cacheDB.ExecContext(ctx, reassignOwnedSQL(legacy, desired))
	if err == nil {
		return nil
	}
	r.warn("REASSIGN OWNED failed; transferring objects one by one", "legacy_role", legacy, "error", err)

	for _, table := range owned.tables {
		if _, err := cacheDB.ExecContext(ctx, alterTableOwnerSQL(r.schema(), table, desired)); err != nil {
			return fmt.Errorf("transfer table %s: %w", table, err)
		}
	}
	if owned.function {
		if _, err := cacheDB.ExecContext(ctx, alterFunctionOwnerSQL(r.schema(), desired)); err != nil {
			r.warn("could not transfer trigger function ownership", "legacy_role", legacy, "error", err)
		}
	}
	return nil
}

// ensureRole creates the cache login role or resets its password.
func (r *Runner) ensureRole(ctx context.Context) error {
	admin, err := r.conn(r.adminTarget(r.cfg.Bootstrap.AdminDB))
	if err != nil {
		return err
	}
	role := r.cfg.Cache.User

	exists, err := roleExists(ctx, admin, role)
	if err != nil {
		return err
	}
	stmt := setRolePasswordSQL(role, r.cfg.Cache.Password)
	if !exists {
		stmt = createRoleSQL(role, r.cfg.Cache.Password)
	}
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure role %s: %w", role, err)
	}
	return nil
}

// ensureDatabase creates the cache database owned by the cache role.
func (r *Runner) ensureDatabase(ctx context.Context) error {
	admin, err := r.conn(r.adminTarget(r.cfg.Bootstrap.AdminDB))
	if err != nil {
		return err
	}
	exists, err := databaseExists(ctx, admin, r.cfg.Cache.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := admin.ExecContext(ctx, createDatabaseSQL(r.cfg.Cache.Name, r.cfg.Cache.User)); err != nil {
		return fmt.Errorf("create database %s: %w", r.cfg.Cache.Name, err)
	}
	slog.Info("cache database created", "component", "bootstrap", "run_id", r.report.RunID, "database", r.cfg.Cache.Name)
	return nil
}

// ensureSchema creates a non-default schema owned by the cache role and
// makes it the role's default search path.
func (r *Runner) ensureSchema(ctx context.Context) error {
	schema := r.schema()
	if schema == "public" {
		return nil
	}
	cacheDB, err := r.conn(r.adminTarget(r.cfg.Cache.Name))
	if err != nil {
		return err
	}
	role := r.cfg.Cache.User

	for _, stmt := range []string{
		createSchemaSQL(schema, role),
		setSearchPathSQL(role, r.cfg.Cache.Name, schema),
		grantSchemaSQL(schema, role),
	} {
		if _, err := cacheDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", schema, err)
		}
	}
	return nil
}
