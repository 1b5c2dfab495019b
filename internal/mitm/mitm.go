// Package mitm runs outgoing JSON responses through the response hook chain.
package mitm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/hyperengineering/lmbridge/internal/hook"
)

// Stage applies payload transformers to JSON response bodies.
type Stage struct {
	hooks []hook.ResponseHook
}

// New creates a stage. Hooks without a capability, including hook.Noop, are dropped.
func New(hooks ...hook.ResponseHook) *Stage {
	s := &Stage{}
	for _, h := range hooks {
		if h == nil || !hook.HasResponseCapability(h) {
			continue
		}
		s.hooks = append(s.hooks, h)
	}
	return s
}

// Enabled reports whether any hook is active.
func (s *Stage) Enabled() bool {
	return len(s.hooks) > 0
}

// HookNames returns the names of the active hooks in execution order.
func (s *Stage) HookNames() []string {
	names := make([]string, 0, len(s.hooks))
	for _, h := range s.hooks {
		names = append(names, h.Name())
	}
	return names
}

// Transform decodes body, runs every hook and re-encodes the result.
// If the body is not valid JSON, or no hook replaced the payload, body is
// returned as is. A failing hook is logged and skipped.
func (s *Stage) Transform(ctx context.Context, body []byte, rc *hook.ResponseContext) []byte {
	if len(s.hooks) == 0 || len(bytes.TrimSpace(body)) == 0 {
		return body
	}

	payload, err := decodePayload(body)
	if err != nil {
		slog.Debug("response body is not valid JSON, skipping hooks",
			"component", "mitm",
			"path", rc.Path,
			"error", err,
		)
		return body
	}

	changed := false
	for _, h := range s.hooks {
		t := h.(hook.PayloadTransformer)
		next, ok := s.run(ctx, h.Name(), t, payload, rc)
		if ok {
			payload = next
			changed = true
		}
	}
	if !changed {
		return body
	}

	out, err := json.Marshal(payload)
	if err != nil {
		slog.Error("response hook produced a payload that cannot be encoded",
			"component", "mitm",
			"path", rc.Path,
			"error", err,
		)
		return body
	}
	return out
}

// decodePayload decodes a single JSON value. Numbers stay json.Number so
// re-encoding keeps integers beyond float64 precision exact.
func decodePayload(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return payload, nil
}

// run calls one hook on a private copy of payload. It reports whether the
// hook replaced the payload.
func (s *Stage) run(ctx context.Context, name string, t hook.PayloadTransformer, payload any, rc *hook.ResponseContext) (any, bool) {
	res, err := callTransform(ctx, t, deepCopy(payload), rc.Clone())
	if err != nil {
		slog.Error("response hook failed",
			"component", "mitm",
			"stage", "transform_payload",
			"hook", name,
			"path", rc.Path,
			"method", rc.Method,
			"error", err,
		)
		return nil, false
	}
	return res.Get()
}

func callTransform(ctx context.Context, t hook.PayloadTransformer, payload any, rc *hook.ResponseContext) (res hook.Result[any], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hook.PanicError{Value: r}
		}
	}()
	return t.TransformPayload(ctx, payload, rc)
}

// deepCopy copies decoded JSON values so a failing hook cannot leave partial
// edits behind.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return v
	}
}

// isJSON reports whether a Content-Type header names a JSON body.
func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// Middleware buffers JSON responses from next and rewrites them through the
// hook chain. Other responses are streamed through untouched. With no active
// hooks it returns next unchanged.
func (s *Stage) Middleware(next http.Handler) http.Handler {
	if !s.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bw := &bufferingWriter{ResponseWriter: w}
		next.ServeHTTP(bw, r)

		if !bw.buffering {
			return
		}

		rc := &hook.ResponseContext{
			Path:    r.URL.Path,
			Method:  r.Method,
			Query:   r.URL.Query(),
			Headers: r.Header,
		}
		out := s.Transform(r.Context(), bw.buf.Bytes(), rc)

		w.Header().Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(bw.status)
		if _, err := w.Write(out); err != nil {
			slog.Debug("response write failed", "component", "mitm", "path", r.URL.Path, "error", err)
		}
	})
}

// bufferingWriter decides on the first WriteHeader or Write whether the
// response is JSON. JSON bodies are held back; anything else goes straight
// to the underlying writer.
type bufferingWriter struct {
	http.ResponseWriter
	decided   bool
	buffering bool
	status    int
	buf       bytes.Buffer
}

func (bw *bufferingWriter) decide(status int) {
	if bw.decided {
		return
	}
	bw.decided = true
	bw.status = status
	if isJSON(bw.Header().Get("Content-Type")) && status != http.StatusNoContent && status != http.StatusNotModified {
		bw.buffering = true
		return
	}
	bw.ResponseWriter.WriteHeader(status)
}

func (bw *bufferingWriter) WriteHeader(code int) {
	bw.decide(code)
}

func (bw *bufferingWriter) Write(p []byte) (int, error) {
	bw.decide(http.StatusOK)
	if bw.buffering {
		return bw.buf.Write(p)
	}
	return bw.ResponseWriter.Write(p)
}

// Flush forwards to the underlying writer for streamed responses.
func (bw *bufferingWriter) Flush() {
	if bw.buffering {
		return
	}
	if f, ok := bw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (bw *bufferingWriter) Unwrap() http.ResponseWriter {
	return bw.ResponseWriter
}
