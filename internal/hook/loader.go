package hook

import (
	"errors"
	"fmt"
	"log/slog"
	"plugin"
	"strings"
)

// Symbol names a Go plugin must export. Each may be a variable of the
// interface type or a constructor returning it:
//
//	var QueryHook hook.QueryHook = &myHook{}
//	func ResponseHook() hook.ResponseHook { return &myTransform{} }
const (
	QuerySymbol    = "QueryHook"
	ResponseSymbol = "ResponseHook"
)

// Source names where a hook comes from. Path wins over Module when both are set.
type Source struct {
	// Module is a name in the hook registry.
	Module string
	// Path is a filesystem path to a Go plugin (.so).
	Path string
}

// IsZero reports whether no hook is configured.
func (s Source) IsZero() bool {
	return s.Module == "" && s.Path == ""
}

// String describes the source for logs.
func (s Source) String() string {
	if s.Path != "" {
		return "path:" + s.Path
	}
	return "module:" + s.Module
}

// symbolTable is the part of *plugin.Plugin the loader uses.
type symbolTable interface {
	Lookup(name string) (plugin.Symbol, error)
}

// openPlugin is replaced in tests.
var openPlugin = func(path string) (symbolTable, error) {
	return plugin.Open(path)
}

// LoadQueryHook resolves src into a query hook. It never fails: a missing
// module, an unloadable plugin or a hook without capabilities is logged once
// and Noop is returned, which the pipeline treats as "no hook configured".
// Module names listed in reserved are built in and applied automatically;
// naming one is warned about and ignored.
func LoadQueryHook(src Source, reserved ...string) QueryHook {
	if src.IsZero() {
		return Noop{}
	}
	if src.Path == "" {
		for _, name := range reserved {
			if src.Module == name {
				slog.Warn("hook is built in and applied automatically; configure a different module for custom hooks",
					"component", "hook",
					"action", "load_skipped",
					"source", src.String(),
				)
				return Noop{}
			}
		}
	}

	h, err := resolveQueryHook(src)
	if err != nil {
		slog.Error("query hook load failed",
			"component", "hook",
			"action", "load_failed",
			"source", src.String(),
			"error", err,
		)
		return Noop{}
	}

	slog.Info("query hook loaded",
		"component", "hook",
		"action", "load_succeeded",
		"source", src.String(),
		"hook", h.Name(),
	)
	return h
}

// LoadResponseHook resolves src into a response hook with the same failure
// semantics as LoadQueryHook.
func LoadResponseHook(src Source) ResponseHook {
	if src.IsZero() {
		return Noop{}
	}

	h, err := resolveResponseHook(src)
	if err != nil {
		slog.Error("response hook load failed",
			"component", "hook",
			"action", "load_failed",
			"source", src.String(),
			"error", err,
		)
		return Noop{}
	}

	slog.Info("response hook loaded",
		"component", "hook",
		"action", "load_succeeded",
		"source", src.String(),
		"hook", h.Name(),
	)
	return h
}

// notRegistered reports an unknown module along with the names that are registered.
func notRegistered(module string, registered []string) error {
	if len(registered) == 0 {
		return fmt.Errorf("%w: %q (no hooks registered)", ErrHookNotFound, module)
	}
	return fmt.Errorf("%w: %q (registered: %s)", ErrHookNotFound, module, strings.Join(registered, ", "))
}

func resolveQueryHook(src Source) (QueryHook, error) {
	var h QueryHook
	if src.Path != "" {
		sym, err := lookupSymbol(src.Path, QuerySymbol)
		if err != nil {
			return nil, err
		}
		switch v := sym.(type) {
		case *QueryHook:
			h = *v
		case func() QueryHook:
			h = v()
		default:
			return nil, fmt.Errorf("%w: symbol %s has type %T", ErrContractViolation, QuerySymbol, sym)
		}
	} else {
		found, ok := LookupQuery(src.Module)
		if !ok {
			names, _ := RegisteredNames()
			return nil, notRegistered(src.Module, names)
		}
		h = found
	}

	if h == nil {
		return nil, fmt.Errorf("%w: nil hook", ErrContractViolation)
	}
	if !HasQueryCapability(h) {
		return nil, fmt.Errorf("%w: %s must implement BeforeQuery or AfterQuery", ErrNoCapability, h.Name())
	}
	return h, nil
}

func resolveResponseHook(src Source) (ResponseHook, error) {
	var h ResponseHook
	if src.Path != "" {
		sym, err := lookupSymbol(src.Path, ResponseSymbol)
		if err != nil {
			return nil, err
		}
		switch v := sym.(type) {
		case *ResponseHook:
			h = *v
		case func() ResponseHook:
			h = v()
		default:
			return nil, fmt.Errorf("%w: symbol %s has type %T", ErrContractViolation, ResponseSymbol, sym)
		}
	} else {
		found, ok := LookupResponse(src.Module)
		if !ok {
			_, names := RegisteredNames()
			return nil, notRegistered(src.Module, names)
		}
		h = found
	}

	if h == nil {
		return nil, fmt.Errorf("%w: nil hook", ErrContractViolation)
	}
	if !HasResponseCapability(h) {
		return nil, fmt.Errorf("%w: %s must implement TransformPayload", ErrNoCapability, h.Name())
	}
	return h, nil
}

func lookupSymbol(path, name string) (sym plugin.Symbol, err error) {
	// A plugin's init code runs inside plugin.Open.
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	p, err := openPlugin(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	sym, err = p.Lookup(name)
	if err != nil {
		return nil, errors.Join(ErrHookNotFound, err)
	}
	return sym, nil
}
