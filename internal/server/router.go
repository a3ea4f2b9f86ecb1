// Package server assembles the HTTP router: shared middleware, the auth routes, health and metrics.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pses-auth/internal/health"
	"pses-auth/internal/identity/handler"
	"pses-auth/internal/metrics"
	"pses-auth/internal/platform/apierrors"
	"pses-auth/internal/platform/response"
	"pses-auth/internal/ratelimit"
	"pses-auth/internal/server/middleware"
)

const requestTimeout = 30 * time.Second

// Deps holds what the router wires together. Health and Metrics are optional.
type Deps struct {
	Auth    *handler.AuthHandler
	Health  *health.Handler
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string
	// ServiceName names the otelhttp server spans.
	ServiceName string
}

// RateLimit returns the per-route limiter middleware the auth handler applies to its sensitive routes.
func RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return ratelimit.Middleware(l, middleware.ClientKey)
}

// NewRouter returns the service's root handler.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.ClientIPContext)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { response.Error(w, apierrors.ErrNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { response.Error(w, apierrors.ErrMethodNotAllowed) })

	if d.Health != nil {
		r.Method(http.MethodGet, "/health", d.Health)
	}
	if d.Auth != nil {
		r.Mount("/", d.Auth.Routes())
	}

	name := d.ServiceName
	if name == "" {
		name = "pses-auth"
	}
	return otelhttp.NewHandler(r, name, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return r.Method + " " + r.URL.Path
	}))
}
