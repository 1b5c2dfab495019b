package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation indicates a hook returned something the pipeline cannot apply.
	ErrContractViolation = errors.New("hook contract violation")

	// ErrHookNotFound indicates a module name that is not in the registry.
	ErrHookNotFound = errors.New("hook not found")

	// ErrNoCapability indicates a hook that implements none of the optional hook methods.
	ErrNoCapability = errors.New("hook has no capability")
)

// PanicError wraps a value recovered from a panicking hook.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("hook panicked: %v", e.Value)
}
