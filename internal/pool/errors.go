package pool

import "errors"

var (
	// ErrPoolNotFound indicates a pool key that is not in the registry.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrInvalidPoolKey indicates a pool key failed validation.
	ErrInvalidPoolKey = errors.New("invalid pool key")
	// ErrDuplicatePool indicates two pools were registered under one key.
	ErrDuplicatePool = errors.New("duplicate pool")
)

// PoolNotFoundError reports the key a hook asked for.
type PoolNotFoundError struct {
	Key string
}

// Error implements the error interface.
func (e *PoolNotFoundError) Error() string {
	return "pool not found: " + e.Key
}

// Unwrap returns ErrPoolNotFound for errors.Is() compatibility.
func (e *PoolNotFoundError) Unwrap() error {
	return ErrPoolNotFound
}
