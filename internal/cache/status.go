package cache

import (
	"context"
	"sync"
)

// Status values reported in the cache status header.
const (
	StatusHit   = "hit"
	StatusMiss  = "miss"
	StatusMixed = "mixed"
)

// statusContextKey is the context key for the per-request lookup recorder.
type statusContextKey struct{}

type recorder struct {
	mu     sync.Mutex
	hits   int
	misses int
}

// WithStatus returns a context that records cache lookups for one request.
func WithStatus(ctx context.Context) context.Context {
	return context.WithValue(ctx, statusContextKey{}, &recorder{})
}

// RecordHit notes a cache hit. It is a no-op without WithStatus.
func RecordHit(ctx context.Context) {
	if r, ok := ctx.Value(statusContextKey{}).(*recorder); ok {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
	}
}

// RecordMiss notes a cache miss. It is a no-op without WithStatus.
func RecordMiss(ctx context.Context) {
	if r, ok := ctx.Value(statusContextKey{}).(*recorder); ok {
		r.mu.Lock()
		r.misses++
		r.mu.Unlock()
	}
}

// StatusFromContext summarizes the recorded lookups. It returns "" when no
// lookup was recorded.
func StatusFromContext(ctx context.Context) string {
	r, ok := ctx.Value(statusContextKey{}).(*recorder)
	if !ok {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.hits > 0 && r.misses > 0:
		return StatusMixed
	case r.hits > 0:
		return StatusHit
	case r.misses > 0:
		return StatusMiss
	default:
		return ""
	}
}
