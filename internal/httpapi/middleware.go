package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/noetl/noetl-sub007/internal/errortracking"
)

// structuredLogger logs each request with slog at a level that scales with
// the response status, the way the control plane's request logging always
// has: quiet on success, loud on failure.
func structuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				}
				switch {
				case status >= 500:
					logger.Error("http server error", attrs...)
				case status >= 400:
					logger.Warn("http client error", attrs...)
				default:
					logger.Debug("http request", attrs...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// sentryRecover reports a panic to Sentry via tracker, then re-panics so
// chi's own Recoverer (which must run after this middleware) still converts
// it into a 500 response. Ordering matters: this middleware only observes,
// it never itself stops the panic from propagating.
func sentryRecover(tracker *errortracking.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					tracker.CaptureError(r.Context(), panicError{rec})
					panic(rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic: " + formatPanic(p.v) }

func formatPanic(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}

// securityHeaders sets the small set of headers appropriate for a
// server-to-server control plane (no browser-facing pages, so no CSP).
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
