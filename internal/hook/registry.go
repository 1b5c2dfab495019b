package hook

import (
	"sort"
	"sync"
)

// registry holds hooks that can be selected by module name.
var (
	registryMu    sync.RWMutex
	queryHooks    = make(map[string]QueryHook)
	responseHooks = make(map[string]ResponseHook)
)

// RegisterQuery adds a query hook to the registry under h.Name().
// Hooks should be registered early in main(), before the pipeline is built.
// Panics if a query hook with the same name is already registered.
func RegisterQuery(h QueryHook) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := h.Name()
	if _, exists := queryHooks[name]; exists {
		panic("query hook already registered: " + name)
	}
	queryHooks[name] = h
}

// RegisterResponse adds a response hook to the registry under h.Name().
// Panics if a response hook with the same name is already registered.
func RegisterResponse(h ResponseHook) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := h.Name()
	if _, exists := responseHooks[name]; exists {
		panic("response hook already registered: " + name)
	}
	responseHooks[name] = h
}

// LookupQuery returns the query hook registered under name.
func LookupQuery(name string) (QueryHook, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := queryHooks[name]
	return h, ok
}

// LookupResponse returns the response hook registered under name.
func LookupResponse(name string) (ResponseHook, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := responseHooks[name]
	return h, ok
}

// RegisteredNames returns the registered query and response hook names, sorted.
func RegisteredNames() (query []string, response []string) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for name := range queryHooks {
		query = append(query, name)
	}
	for name := range responseHooks {
		response = append(response, name)
	}
	sort.Strings(query)
	sort.Strings(response)
	return query, response
}

// Reset clears the registry. Only for testing.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	queryHooks = make(map[string]QueryHook)
	responseHooks = make(map[string]ResponseHook)
}
