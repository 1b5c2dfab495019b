// Package pool holds the named database connection pools a query may be
// routed to. The registry is populated once at startup and is read-only
// afterwards, so lookups need no locking.
package pool

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultKey is the key of the primary mirror pool.
const DefaultKey = "default"

// DriverName is the database/sql driver used for every pool.
const DriverName = "postgres"

var keyPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// Target is the connection target of a pool.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the target as a postgres:// connection URL.
func (t Target) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:   "/" + t.DBName,
	}
	if t.User != "" {
		if t.Password != "" {
			u.User = url.UserPassword(t.User, t.Password)
		} else {
			u.User = url.User(t.User)
		}
	}
	sslmode := t.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	return u.String()
}

// String returns the target without its password, for logs.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s/%s", t.User, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), t.DBName)
}

// Options bounds the underlying database/sql pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns the pool sizing used when none is configured.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Pool is a named, immutable connection target with its open handle.
type Pool struct {
	key    string
	target Target
	db     *sqlx.DB
}

// Open creates a pool for target. Connections are established lazily by the driver.
func Open(key string, target Target, opts Options) (*Pool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(DriverName, target.DSN())
	if err != nil {
		return nil, fmt.Errorf("open pool %q: %w", key, err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &Pool{key: key, target: target, db: db}, nil
}

// New wraps an already open handle. Tests use it to register non-Postgres databases.
func New(key string, target Target, db *sqlx.DB) *Pool {
	return &Pool{key: key, target: target, db: db}
}

// Key returns the registry key of the pool.
func (p *Pool) Key() string { return p.key }

// Target returns the connection target of the pool.
func (p *Pool) Target() Target { return p.target }

// DB returns the underlying handle.
func (p *Pool) DB() *sqlx.DB { return p.db }

// Close closes the underlying handle.
func (p *Pool) Close() error {
	return p.db.Close()
}

// ValidateKey checks that a pool key is lowercase alphanumeric with hyphens or underscores.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidPoolKey)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q (must be lowercase alphanumeric with hyphens or underscores)", ErrInvalidPoolKey, key)
	}
	return nil
}
