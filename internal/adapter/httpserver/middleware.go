package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustbench/trustbench/internal/adapter/observability"
)

const headerRequestID = "X-Request-Id"

// requestTimeoutBody is what http.TimeoutHandler writes on expiry; it
// mirrors the envelope every other error response uses.
const requestTimeoutBody = `{"error":{"code":"TIMEOUT","message":"request timed out"}}`

// Recoverer converts a handler panic into a 500 so one bad request cannot
// take the process down.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					observability.LoggerFromContext(r.Context()).Error("panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.Any("recover", rec))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags every request with a ULID, echoes it back in the
// response, and hangs a correlated logger off the context for the
// handlers downstream.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestID(r)
			logger := slog.Default().With(
				slog.String("request_id", reqID),
				slog.String("trace_id", trace.SpanContextFromContext(r.Context()).TraceID().String()),
			)
			ctx := observability.ContextWithRequestID(
				observability.ContextWithLogger(r.Context(), logger), reqID)
			w.Header().Set(headerRequestID, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestID returns the caller-supplied id or mints one. ulid.Make is
// goroutine-safe, so concurrent requests need no shared entropy source.
func requestID(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" {
		return id
	}
	id := ulid.Make().String()
	r.Header.Set(headerRequestID, id)
	return id
}

// TimeoutMiddleware bounds handler wall time; expired requests get a 503
// with a JSON body.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, requestTimeoutBody)
	}
}

// securityHeaders are the strict defaults for a JSON-only API; HSTS
// belongs to the TLS-terminating edge, not here.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}

// SecurityHeaders stamps every response with the strict header set.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLog writes one line per request. The route label matches the chi
// pattern so log queries line up with the Prometheus route label.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			observability.LoggerFromContext(r.Context()).LogAttrs(r.Context(), level, "http_access",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// routePattern prefers the matched chi pattern over the raw path so high
// cardinality paths collapse into one label.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}
