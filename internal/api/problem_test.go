package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperengineering/lmbridge/internal/mirror"
	"github.com/hyperengineering/lmbridge/internal/pool"
	"github.com/hyperengineering/lmbridge/internal/validation"
)

func TestWriteProblem_Fields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/album/x", nil)
	rec := httptest.NewRecorder()

	WriteProblem(rec, req, http.StatusNotFound, "Resource not found")

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	want := Problem{
		Type:     "https://lmbridge.dev/errors/not-found",
		Title:    "Not Found",
		Status:   404,
		Detail:   "Resource not found",
		Instance: "/album/x",
	}
	if p != want {
		t.Errorf("problem = %+v, want %+v", p, want)
	}
}

func TestWriteProblem_UnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WriteProblem(rec, req, http.StatusTeapot, "short and stout")

	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "https://lmbridge.dev/errors/unknown" || p.Title != "I'm a teapot" {
		t.Errorf("problem = %+v", p)
	}
}

func TestWriteProblemWithErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/config/release-filter", nil)
	rec := httptest.NewRecorder()

	WriteProblemWithErrors(rec, req, http.StatusUnprocessableEntity, "Request contains invalid fields",
		[]validation.ValidationError{{Field: "prefer", Message: "must be a single value"}})

	var p ProblemWithErrors
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != 422 || len(p.Errors) != 1 || p.Errors[0].Field != "prefer" {
		t.Errorf("problem = %+v", p)
	}
}

func TestMapLookupError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("album x: %w", mirror.ErrNotFound), http.StatusNotFound},
		{"unknown pool", &pool.PoolNotFoundError{Key: "replica"}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/album/x", nil)
			rec := httptest.NewRecorder()
			MapLookupError(rec, req, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
