package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hyperengineering/lmbridge/internal/config"
)

// Registry maps pool keys to pools. It always contains DefaultKey.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry builds a registry from the primary pool and any extra pools.
// The primary pool is registered under DefaultKey regardless of its own key.
func NewRegistry(primary *Pool, extra ...*Pool) (*Registry, error) {
	if primary == nil {
		return nil, errors.New("primary pool is required")
	}

	r := &Registry{pools: make(map[string]*Pool, len(extra)+1)}
	r.pools[DefaultKey] = &Pool{key: DefaultKey, target: primary.target, db: primary.db}

	for _, p := range extra {
		if err := ValidateKey(p.key); err != nil {
			return nil, err
		}
		if _, exists := r.pools[p.key]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePool, p.key)
		}
		r.pools[p.key] = p
	}

	return r, nil
}

// Resolve returns the pool registered under key. An empty key means the default pool.
func (r *Registry) Resolve(key string) (*Pool, error) {
	if key == "" {
		key = DefaultKey
	}
	p, ok := r.pools[key]
	if !ok {
		return nil, &PoolNotFoundError{Key: key}
	}
	return p, nil
}

// Default returns the primary pool.
func (r *Registry) Default() *Pool {
	return r.pools[DefaultKey]
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.pools[key]
	return ok
}

// Keys returns all registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.pools))
	for k := range r.pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every pool, returning the last error seen.
func (r *Registry) Close() error {
	var lastErr error
	for key, p := range r.pools {
		if err := p.Close(); err != nil {
			slog.Error("error closing pool", "component", "pool", "pool", key, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// FromConfig opens the primary pool and every configured named pool.
// Named pools inherit port, user and password from the primary database when unset.
func FromConfig(cfg *config.Config) (*Registry, error) {
	opts := DefaultOptions()
	if cfg.Database.MaxOpenConns > 0 {
		opts.MaxOpenConns = cfg.Database.MaxOpenConns
	}

	primaryTarget := Target{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}
	primary, err := Open(DefaultKey, primaryTarget, opts)
	if err != nil {
		return nil, err
	}

	opened := []*Pool{primary}
	closeAll := func() {
		for _, p := range opened {
			_ = p.Close()
		}
	}

	var extra []*Pool
	for _, key := range cfg.PoolKeys() {
		pc := cfg.Pools[key]
		target := Target{
			Host:     pc.Host,
			Port:     pc.Port,
			User:     pc.User,
			Password: pc.Password,
			DBName:   pc.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		if target.Port == 0 {
			target.Port = primaryTarget.Port
		}
		if target.User == "" {
			target.User = primaryTarget.User
		}
		if target.Password == "" {
			target.Password = primaryTarget.Password
		}

		p, err := Open(key, target, opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		opened = append(opened, p)
		extra = append(extra, p)

		slog.Info("pool registered",
			"component", "pool",
			"action", "pool_registered",
			"pool", key,
			"target", target.String(),
		)
	}

	reg, err := NewRegistry(primary, extra...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return reg, nil
}
