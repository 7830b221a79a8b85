// Package app assembles the HTTP surface: routing, middleware, and
// readiness probes.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trustbench/trustbench/internal/adapter/httpserver"
	"github.com/trustbench/trustbench/internal/adapter/observability"
	"github.com/trustbench/trustbench/internal/config"
)

// ParseOrigins splits the comma-separated CORS allow list. An empty or
// all-blank list means every origin.
func ParseOrigins(s string) []string {
	var origins []string
	for _, part := range strings.Split(s, ",") {
		if o := strings.TrimSpace(part); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return []string{"*"}
	}
	return origins
}

// corsPolicy allows browser dashboards to read the API. Only the
// request-ID header is exposed beyond the CORS-safelisted set.
func corsPolicy(cfg config.Config) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(corsPolicy(cfg))

	r.Route("/api", func(api chi.Router) {
		// Mutating endpoints are rate limited per client IP.
		api.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/repositories/analyze", srv.AnalyzeHandler())
			wr.Post("/baseline/promote", srv.PromoteBaselineHandler())
		})

		api.Get("/repositories/{id}/status", srv.StatusHandler())
		api.Get("/run/latest", srv.LatestRunHandler())
		api.Get("/runs", srv.RunsHandler())
		api.Get("/verdict", srv.VerdictHandler())
		api.Get("/agents", srv.AgentsHandler())
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	return otelhttp.NewHandler(httpserver.SecurityHeaders(r), "trustbench.api")
}
