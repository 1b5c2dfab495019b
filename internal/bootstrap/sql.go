package bootstrap

import (
	"fmt"

	"github.com/lib/pq"
)

// triggerFunction is the name of the shared update trigger function.
const triggerFunction = "cache_updated"

func qualify(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func createRoleSQL(role, password string) string {
	return fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s", pq.QuoteIdentifier(role), pq.QuoteLiteral(password))
}

func setRolePasswordSQL(role, password string) string {
	return fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s", pq.QuoteIdentifier(role), pq.QuoteLiteral(password))
}

func renameRoleSQL(from, to string) string {
	return fmt.Sprintf("ALTER ROLE %s RENAME TO %s", pq.QuoteIdentifier(from), pq.QuoteIdentifier(to))
}

func createDatabaseSQL(db, owner string) string {
	return fmt.Sprintf("CREATE DATABASE %s OWNER %s", pq.QuoteIdentifier(db), pq.QuoteIdentifier(owner))
}

func alterDatabaseOwnerSQL(db, owner string) string {
	return fmt.Sprintf("ALTER DATABASE %s OWNER TO %s", pq.QuoteIdentifier(db), pq.QuoteIdentifier(owner))
}

func alterSchemaOwnerSQL(schema, owner string) string {
	return fmt.Sprintf("ALTER SCHEMA %s OWNER TO %s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(owner))
}

func reassignOwnedSQL(from, to string) string {
	return fmt.Sprintf("REASSIGN OWNED BY %s TO %s", pq.QuoteIdentifier(from), pq.QuoteIdentifier(to))
}

func alterTableOwnerSQL(schema, table, owner string) string {
	return fmt.Sprintf("ALTER TABLE %s OWNER TO %s", qualify(schema, table), pq.QuoteIdentifier(owner))
}

func alterFunctionOwnerSQL(schema, owner string) string {
	return fmt.Sprintf("ALTER FUNCTION %s() OWNER TO %s", qualify(schema, triggerFunction), pq.QuoteIdentifier(owner))
}

func createSchemaSQL(schema, owner string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(owner))
}

func setSearchPathSQL(role, db, schema string) string {
	return fmt.Sprintf("ALTER ROLE %s IN DATABASE %s SET search_path = %s, public",
		pq.QuoteIdentifier(role), pq.QuoteIdentifier(db), pq.QuoteIdentifier(schema))
}

func grantSchemaSQL(schema, role string) string {
	return fmt.Sprintf("GRANT USAGE, CREATE ON SCHEMA %s TO %s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(role))
}

func createTriggerFunctionSQL(schema string) string {
	return fmt.Sprintf(`CREATE FUNCTION %s() RETURNS TRIGGER AS $$
BEGIN
    NEW.updated = current_timestamp;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`, qualify(schema, triggerFunction))
}

func createCacheTableSQL(schema, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key varchar PRIMARY KEY,
    expires timestamp with time zone,
    updated timestamp with time zone DEFAULT current_timestamp,
    value bytea
)`, qualify(schema, table))
}

func createExpiresIndexSQL(schema, table string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (expires)",
		pq.QuoteIdentifier(table+"_expires_idx"), qualify(schema, table))
}

func createUpdatedIndexSQL(schema, table string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (updated DESC) INCLUDE (key)",
		pq.QuoteIdentifier(table+"_updated_idx"), qualify(schema, table))
}

func triggerName(table string) string {
	return table + "_updated_trigger"
}

func dropTriggerSQL(schema, table string) string {
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", pq.QuoteIdentifier(triggerName(table)), qualify(schema, table))
}

func createTriggerSQL(schema, table string) string {
	return fmt.Sprintf(`CREATE TRIGGER %s BEFORE UPDATE ON %s
FOR EACH ROW WHEN (OLD.value IS DISTINCT FROM NEW.value)
EXECUTE PROCEDURE %s()`, pq.QuoteIdentifier(triggerName(table)), qualify(schema, table), qualify(schema, triggerFunction))
}
