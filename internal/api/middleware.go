package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/lmbridge/internal/cache"
)

// CacheHeader reports whether cache lookups made for a request hit or missed.
const CacheHeader = "X-LMBridge-Cache"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("request",
			"component", "api",
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"cache", wrapped.Header().Get(CacheHeader),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RecoveryMiddleware catches panics and returns 500 Problem Details.
// Panic details are logged but never exposed to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				slog.Error("panic recovered",
					"component", "api",
					"error", recovered,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CacheStatusMiddleware records cache lookups made while serving a request
// and reports them in the CacheHeader response header. Requests that made
// no lookup get no header.
func CacheStatusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(cache.WithStatus(r.Context()))
		next.ServeHTTP(&cacheStatusWriter{ResponseWriter: w, r: r}, r)
	})
}

// cacheStatusWriter sets the cache header just before the status line goes out.
type cacheStatusWriter struct {
	http.ResponseWriter
	r           *http.Request
	wroteHeader bool
}

func (cw *cacheStatusWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.wroteHeader = true
		if status := cache.StatusFromContext(cw.r.Context()); status != "" {
			cw.Header().Set(CacheHeader, status)
		}
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *cacheStatusWriter) Write(p []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	return cw.ResponseWriter.Write(p)
}

func (cw *cacheStatusWriter) Flush() {
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *cacheStatusWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
