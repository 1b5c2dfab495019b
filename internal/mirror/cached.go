package mirror

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/lmbridge/internal/cache"
)

// albumTable is the cache table holding release group documents.
const albumTable = "album"

// Cached memoizes album lookups in the cache store and records each lookup
// in the request's cache status. Artist lookups go straight to the mirror.
type Cached struct {
	next  Lookup
	store cache.Store
	ttl   time.Duration
}

var _ Lookup = (*Cached)(nil)

// NewCached wraps next with store. Entries expire after ttl.
func NewCached(next Lookup, store cache.Store, ttl time.Duration) *Cached {
	return &Cached{next: next, store: store, ttl: ttl}
}

// Album implements Lookup. Cache errors other than a miss are logged and
// treated as a miss.
func (c *Cached) Album(ctx context.Context, mbid string) ([]byte, error) {
	data, err := c.store.Get(ctx, albumTable, mbid)
	if err == nil {
		cache.RecordHit(ctx)
		return data, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("cache read failed", "component", "cache", "table", albumTable, "key", mbid, "error", err)
	}
	cache.RecordMiss(ctx)

	data, err = c.next.Album(ctx, mbid)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, albumTable, mbid, data, c.ttl); err != nil {
		slog.Warn("cache write failed", "component", "cache", "table", albumTable, "key", mbid, "error", err)
	}
	return data, nil
}

// Artist implements Lookup.
func (c *Cached) Artist(ctx context.Context, mbid string) ([]byte, error) {
	return c.next.Artist(ctx, mbid)
}
