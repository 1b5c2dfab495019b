// Package cache stores provider and lookup responses in the key/value tables
// provisioned by cache-init.
package cache

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrMiss indicates the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrUnknownTable indicates a table outside the fixed cache table set.
	ErrUnknownTable = errors.New("unknown cache table")
	// ErrDisabled indicates caching is turned off for this process.
	ErrDisabled = errors.New("cache disabled")
)

// Tables is the fixed set of cache tables, in provisioning order.
var Tables = []string{"fanart", "tadb", "wikipedia", "artist", "album", "spotify"}

// ValidTable reports whether name is one of Tables.
func ValidTable(name string) bool {
	return slices.Contains(Tables, name)
}

// Store defines the cache operations used by the server.
type Store interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, table, key string) ([]byte, error)
	// Set stores value under key. A ttl <= 0 stores an entry that never expires.
	Set(ctx context.Context, table, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, table, key string) error
	// SweepExpired deletes entries that expired before the given time and
	// returns how many were removed across all tables.
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Disabled is the store used when caching is off or cache-init failed with
// fail-open. Reads always miss and writes are dropped.
type Disabled struct{}

func (Disabled) Get(context.Context, string, string) ([]byte, error) { return nil, ErrMiss }
func (Disabled) Set(context.Context, string, string, []byte, time.Duration) error {
	return nil
}
func (Disabled) Delete(context.Context, string, string) error { return nil }
func (Disabled) SweepExpired(context.Context, time.Time) (int64, error) {
	return 0, ErrDisabled
}
func (Disabled) Close() error { return nil }
