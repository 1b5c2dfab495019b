package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/lmbridge/internal/bootstrap"
	"github.com/hyperengineering/lmbridge/internal/cache"
	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/types"
)

const (
	cacheEnabled  = types.CacheEnabled
	cacheDisabled = types.CacheDisabled
	cacheDegraded = types.CacheDegraded
)

// openStore is replaced in tests.
var openStore = func(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	s, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openCache returns the cache store the server should use and its state.
// A cache-init failure marker either disables caching (fail-open) or stops
// the server from starting.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, string, error) {
	if !cfg.Cache.Enabled {
		slog.Info("cache disabled by configuration", "component", "cache")
		return cache.Disabled{}, cacheDisabled, nil
	}

	marker, err := bootstrap.ReadMarker(cfg.Cache.StateDir)
	if err != nil {
		return nil, "", err
	}
	if marker != nil {
		attrs := []any{
			"component", "cache",
			"marker", bootstrap.MarkerPath(cfg.Cache.StateDir),
			"last_state", marker.State,
			"run_id", marker.RunID,
			"error", marker.Error,
		}
		if marker.Hint != "" {
			attrs = append(attrs, "hint", marker.Hint)
		}
		if !cfg.Cache.FailOpen {
			slog.Error("cache-init failed; refusing to start", attrs...)
			return nil, "", fmt.Errorf("cache-init failed (%s); fix and re-run cache-init or set LMBRIDGE_CACHE_FAIL_OPEN", marker.Error)
		}
		slog.Warn("cache-init failed; starting with caching disabled", attrs...)
		return cache.Disabled{}, cacheDegraded, nil
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		if !cfg.Cache.FailOpen {
			return nil, "", fmt.Errorf("open cache: %w", err)
		}
		slog.Warn("cache unavailable; starting with caching disabled", "component", "cache", "error", err)
		return cache.Disabled{}, cacheDegraded, nil
	}
	return store, cacheEnabled, nil
}
