package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/lmbridge/internal/mirror"
	"github.com/hyperengineering/lmbridge/internal/provider"
	"github.com/hyperengineering/lmbridge/internal/releasefilter"
	"github.com/hyperengineering/lmbridge/internal/types"
	"github.com/hyperengineering/lmbridge/internal/validation"
)

// RuntimeInfo describes the wiring reported by the health endpoint.
type RuntimeInfo struct {
	Pools         []string
	QueryHooks    []string
	ResponseHooks []string
	// Cache is one of types.CacheEnabled, CacheDisabled or CacheDegraded.
	Cache string
}

// Handler implements the API handlers
type Handler struct {
	lookup  mirror.Lookup
	filter  *releasefilter.Filter
	version string
	info    RuntimeInfo
}

// NewHandler creates a Handler serving lookups from lookup and runtime
// settings for filter.
func NewHandler(lookup mirror.Lookup, filter *releasefilter.Filter, version string, info RuntimeInfo) *Handler {
	return &Handler{
		lookup:  lookup,
		filter:  filter,
		version: version,
		info:    info,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Pools:         nonNil(h.info.Pools),
		QueryHooks:    nonNil(h.info.QueryHooks),
		ResponseHooks: nonNil(h.info.ResponseHooks),
		Cache:         h.info.Cache,
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Version handles GET /version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, types.VersionResponse{Version: h.version})
}

// Providers handles GET /providers
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, types.ProvidersResponse{Providers: provider.List()})
}

// Album handles GET /album/{mbid}
func (h *Handler) Album(w http.ResponseWriter, r *http.Request) {
	h.serveDocument(w, r, h.lookup.Album)
}

// Artist handles GET /artist/{mbid}
func (h *Handler) Artist(w http.ResponseWriter, r *http.Request) {
	h.serveDocument(w, r, h.lookup.Artist)
}

func (h *Handler) serveDocument(w http.ResponseWriter, r *http.Request, fetch func(context.Context, string) ([]byte, error)) {
	mbid := chi.URLParam(r, "mbid")
	if verr := validation.ValidateMBID("mbid", mbid); verr != nil {
		WriteProblemWithErrors(w, r, http.StatusBadRequest, "Invalid identifier", []validation.ValidationError{*verr})
		return
	}

	doc, err := fetch(r.Context(), strings.ToLower(mbid))
	if err != nil {
		slog.Error("lookup failed",
			"component", "api",
			"path", r.URL.Path,
			"mbid", mbid,
			"error", err,
		)
		MapLookupError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Debug("response write failed", "component", "api", "path", r.URL.Path, "error", err)
	}
}

// GetReleaseFilter handles GET /config/release-filter
func (h *Handler) GetReleaseFilter(w http.ResponseWriter, r *http.Request) {
	s := h.filter.Settings()
	writeJSON(w, r, http.StatusOK, releaseFilterResponse(s, s.Enabled()))
}

// SetReleaseFilter handles POST /config/release-filter. Every call replaces
// all settings: absent fields are cleared and enabled=false clears everything.
// An empty body counts as {}. Malformed JSON is rejected with 400 and leaves
// the current settings in place.
func (h *Handler) SetReleaseFilter(w http.ResponseWriter, r *http.Request) {
	var req types.ReleaseFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if req == nil {
		req = types.ReleaseFilterRequest{}
	}

	if errs := validation.ValidateReleaseFilterRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, http.StatusUnprocessableEntity, "Request contains invalid fields", errs)
		return
	}

	enabled := true
	if v, ok := req["enabled"]; ok {
		enabled = releasefilter.IsTruthy(v)
	}

	var effective releasefilter.Settings
	if enabled {
		_, exclude := req.First(types.ExcludeKeys...)
		_, include := req.First(types.IncludeKeys...)
		_, keepOnly := req.First(types.KeepOnlyKeys...)
		effective = h.filter.Set(releasefilter.Settings{
			Include:  releasefilter.ParseList(include),
			Exclude:  releasefilter.ParseList(exclude),
			KeepOnly: releasefilter.ParseKeepOnly(keepOnly),
			Prefer:   releasefilter.ParsePrefer(req["prefer"]),
		})
	} else {
		effective = h.filter.Clear()
	}

	slog.Info("release filter updated",
		"component", "api",
		"action", "release_filter_updated",
		"enabled", enabled,
		"include", effective.Include,
		"exclude", effective.Exclude,
		"keep_only", effective.KeepOnly,
		"prefer", effective.Prefer,
	)
	writeJSON(w, r, http.StatusOK, releaseFilterResponse(effective, enabled))
}

func releaseFilterResponse(s releasefilter.Settings, enabled bool) types.ReleaseFilterResponse {
	resp := types.ReleaseFilterResponse{
		OK:                  true,
		Enabled:             enabled,
		ExcludeMediaFormats: nonNil(s.Exclude),
		IncludeMediaFormats: nonNil(s.Include),
	}
	if s.KeepOnly > 0 {
		n := s.KeepOnly
		resp.KeepOnlyMediaCount = &n
	}
	if s.Prefer != "" {
		p := s.Prefer
		resp.Prefer = &p
	}
	return resp
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "path", r.URL.Path, "error", err)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
