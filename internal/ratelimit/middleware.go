package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pses-auth/internal/platform/apierrors"
	"pses-auth/internal/platform/response"
)

// KeyFunc extracts the client identifier a request is counted against.
type KeyFunc func(*http.Request) string

// Middleware limits each client per route. Requests over the limit get 429 RATE_LIMITED.
// Redis failures let the request through. A nil Limiter returns a pass-through middleware.
func Middleware(l *Limiter, clientKey KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := routeOf(r) + ":" + clientKey(r)
			d, err := l.Allow(r.Context(), key)
			if err != nil {
				slog.Warn("ratelimit: allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := int(time.Until(d.ResetAt).Seconds()) + 1
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				response.Error(w, apierrors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return r.Method + " " + r.URL.Path
}
