package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/pool"
)

// SQLStore is a Store over the cache database.
type SQLStore struct {
	db     *sqlx.DB
	schema string
	now    func() time.Time
}

// NewSQLStore wraps an open handle. An empty schema leaves table names unqualified.
func NewSQLStore(db *sqlx.DB, schema string) *SQLStore {
	return &SQLStore{db: db, schema: schema, now: time.Now}
}

// Open connects to the cache database as the cache role and verifies the
// connection.
func Open(ctx context.Context, cfg *config.Config) (*SQLStore, error) {
	target := pool.Target{
		Host:     cfg.CacheHost(),
		Port:     cfg.CachePort(),
		User:     cfg.Cache.User,
		Password: cfg.Cache.Password,
		DBName:   cfg.Cache.Name,
		SSLMode:  cfg.Database.SSLMode,
	}
	db, err := sqlx.Open(pool.DriverName, target.DSN())
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to cache database %s: %w", target, err)
	}

	slog.Info("cache store opened",
		"component", "cache",
		"action", "store_opened",
		"target", target.String(),
		"schema", cfg.Cache.Schema,
	)
	return NewSQLStore(db, cfg.Cache.Schema), nil
}

// table returns the quoted, schema-qualified table name.
func (s *SQLStore) table(name string) (string, error) {
	if !ValidTable(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	if s.schema == "" {
		return pq.QuoteIdentifier(name), nil
	}
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(name), nil
}

// Get implements Store. Expired rows read as a miss; the sweeper removes them.
func (s *SQLStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}

	var row struct {
		Value   []byte       `db:"value"`
		Expires sql.NullTime `db:"expires"`
	}
	query := s.db.Rebind(`SELECT value, expires FROM ` + t + ` WHERE key = ?`)
	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("get %s/%s: %w", table, key, err)
	}

	if row.Expires.Valid && !s.now().Before(row.Expires.Time) {
		return nil, ErrMiss
	}
	return row.Value, nil
}

// Set implements Store. The updated column is left to the table trigger.
func (s *SQLStore) Set(ctx context.Context, table, key string, value []byte, ttl time.Duration) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}

	var expires *time.Time
	if ttl > 0 {
		e := s.now().Add(ttl).UTC()
		expires = &e
	}

	query := s.db.Rebind(`INSERT INTO ` + t + ` (key, expires, value) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET expires = excluded.expires, value = excluded.value`)
	if _, err := s.db.ExecContext(ctx, query, key, expires, value); err != nil {
		return fmt.Errorf("set %s/%s: %w", table, key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, table, key string) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`DELETE FROM ` + t + ` WHERE key = ?`)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

// SweepExpired implements Store. A failure on one table is logged and the
// remaining tables are still swept.
func (s *SQLStore) SweepExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	var errs []error
	for _, name := range Tables {
		t, _ := s.table(name)
		query := s.db.Rebind(`DELETE FROM ` + t + ` WHERE expires IS NOT NULL AND expires < ?`)
		res, err := s.db.ExecContext(ctx, query, before.UTC())
		if err != nil {
			slog.Warn("cache sweep failed",
				"component", "cache",
				"table", name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("sweep %s: %w", name, err))
			continue
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, errors.Join(errs...)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
