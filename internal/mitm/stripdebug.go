package mitm

import (
	"context"

	"github.com/hyperengineering/lmbridge/internal/hook"
)

// StripDebugName is the registry name of StripDebug.
const StripDebugName = "strip-debug"

// StripDebug removes the top-level "debug" key from object payloads.
// Applying it more than once has the same effect as applying it once.
type StripDebug struct{}

// Name implements hook.ResponseHook.
func (StripDebug) Name() string { return StripDebugName }

// TransformPayload implements hook.PayloadTransformer.
func (StripDebug) TransformPayload(_ context.Context, payload any, _ *hook.ResponseContext) (hook.Result[any], error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return hook.Unchanged[any](), nil
	}
	if _, ok := obj["debug"]; !ok {
		return hook.Unchanged[any](), nil
	}
	delete(obj, "debug")
	return hook.Replaced[any](obj), nil
}
