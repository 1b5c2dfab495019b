package main

import (
	"log/slog"
	"sync"

	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/hook"
	"github.com/hyperengineering/lmbridge/internal/mitm"
	"github.com/hyperengineering/lmbridge/internal/pipeline"
	"github.com/hyperengineering/lmbridge/internal/pool"
	"github.com/hyperengineering/lmbridge/internal/releasefilter"
)

var registerOnce sync.Once

// registerBuiltinHooks makes the built-in hooks selectable by module name.
// The release filter is not registered: it always runs first.
func registerBuiltinHooks() {
	registerOnce.Do(func() {
		hook.RegisterResponse(mitm.StripDebug{})
	})
}

// buildQueryStage chains the built-in release filter with the configured
// custom query hook, in that order.
func buildQueryStage(cfg *config.Config, pools *pool.Registry, filter *releasefilter.Filter) *pipeline.Stage {
	custom := hook.LoadQueryHook(hook.Source{
		Module: cfg.Hooks.DBAfterModule,
		Path:   cfg.Hooks.DBAfterPath,
	}, releasefilter.Name)

	stage := pipeline.New(pools, filter, custom)
	slog.Info("query hooks initialized", "component", "hook", "hooks", stage.HookNames())
	return stage
}

// buildResponseStage loads the configured response hook, if any.
func buildResponseStage(cfg *config.Config) *mitm.Stage {
	custom := hook.LoadResponseHook(hook.Source{
		Module: cfg.Hooks.MITMAfterModule,
		Path:   cfg.Hooks.MITMAfterPath,
	})

	stage := mitm.New(custom)
	slog.Info("response hooks initialized", "component", "hook", "hooks", stage.HookNames())
	return stage
}
