package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/lmbridge/internal/mitm"
)

// NewRouter creates a new router with all routes configured. Response hooks
// in responses run on every JSON response; a nil stage disables them.
func NewRouter(h *Handler, responses *mitm.Stage) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(CacheStatusMiddleware)
	if responses != nil {
		r.Use(responses.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, "No route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusMethodNotAllowed, r.Method+" is not supported here")
	})

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)
	r.Get("/providers", h.Providers)

	r.Route("/config", func(r chi.Router) {
		r.Get("/release-filter", h.GetReleaseFilter)
		r.Post("/release-filter", h.SetReleaseFilter)
	})

	r.Get("/album/{mbid}", h.Album)
	r.Get("/artist/{mbid}", h.Artist)

	return r
}
