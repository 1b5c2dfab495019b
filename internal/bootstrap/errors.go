package bootstrap

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrDatabaseUnreachable indicates the administrative database never answered.
	ErrDatabaseUnreachable = errors.New("database unreachable")
	// ErrMissingSQL indicates a configured SQL input file does not exist.
	ErrMissingSQL = errors.New("missing SQL input")
	// ErrCacheProvisioning indicates the cache tables could not be provisioned.
	ErrCacheProvisioning = errors.New("cache table provisioning failed")
)

// Exit codes of the cache-init command.
const (
	ExitOK                = 0
	ExitMissingSQL        = 1
	ExitFatal             = 2
	ExitCacheProvisioning = 3
)

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMissingSQL):
		return ExitMissingSQL
	case errors.Is(err, ErrCacheProvisioning):
		return ExitCacheProvisioning
	default:
		return ExitFatal
	}
}

// GrantHint returns the statement an operator should run when err is a
// Postgres permission error on schema, or "" otherwise.
func GrantHint(err error, schema, role string) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	if pqErr.Code.Name() != "insufficient_privilege" {
		return ""
	}
	return fmt.Sprintf("GRANT USAGE, CREATE ON SCHEMA %s TO %s;", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(role))
}
