// Package types holds the JSON documents exchanged over the HTTP API.
package types

import "github.com/hyperengineering/lmbridge/internal/provider"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Pools         []string `json:"pools"`
	QueryHooks    []string `json:"query_hooks"`
	ResponseHooks []string `json:"response_hooks"`
	Cache         string   `json:"cache"`
}

// Cache states reported by HealthResponse.
const (
	CacheEnabled  = "enabled"
	CacheDisabled = "disabled"
	// CacheDegraded means cache-init failed and the server runs fail-open.
	CacheDegraded = "degraded"
)

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Version string `json:"version"`
}

// ProvidersResponse is returned by GET /providers.
type ProvidersResponse struct {
	Providers []provider.Capabilities `json:"providers"`
}

// ReleaseFilterRequest is the body of POST /config/release-filter. Fields
// keep their raw JSON values because several spellings and value shapes are
// accepted; use Resolve to pick the effective ones.
type ReleaseFilterRequest map[string]any

// Field spellings accepted by ReleaseFilterRequest, in precedence order.
var (
	ExcludeKeys  = []string{"exclude_media_formats", "excludeMediaFormats", "media_exclude"}
	IncludeKeys  = []string{"include_media_formats", "includeMediaFormats", "media_include"}
	KeepOnlyKeys = []string{"keep_only_media_count", "keepOnlyMediaCount"}
)

// First returns the value of the first key present with a non-null value.
func (r ReleaseFilterRequest) First(keys ...string) (string, any) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return k, v
		}
	}
	return "", nil
}

// ReleaseFilterResponse reports the effective release filter settings.
type ReleaseFilterResponse struct {
	OK                  bool     `json:"ok"`
	Enabled             bool     `json:"enabled"`
	ExcludeMediaFormats []string `json:"exclude_media_formats"`
	IncludeMediaFormats []string `json:"include_media_formats"`
	KeepOnlyMediaCount  *int     `json:"keep_only_media_count"`
	Prefer              *string  `json:"prefer"`
}
