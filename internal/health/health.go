// Package health serves readiness for load balancers and orchestrators.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pses-auth/internal/platform/response"
)

// Pinger checks connectivity to the account store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the policy engine compiled and can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 3 * time.Second

// Handler reports SERVING when every configured check passes, else NOT_SERVING with 503.
type Handler struct {
	store  Pinger
	policy PolicyChecker
}

// NewHandler returns a Handler. Nil checks are skipped.
func NewHandler(store Pinger, policy PolicyChecker) *Handler {
	return &Handler{store: store, policy: policy}
}

// Status is the body of GET /health.
type Status struct {
	OK     bool              `json:"ok"`
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Check runs every configured check.
func (h *Handler) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	st := Status{OK: true, Status: "SERVING", Checks: map[string]string{}}
	if h.store != nil {
		st.record("store", h.store.Ping(ctx))
	}
	if h.policy != nil {
		st.record("policy", h.policy.HealthCheck(ctx))
	}
	return st
}

func (s *Status) record(name string, err error) {
	if err == nil {
		s.Checks[name] = "ok"
		return
	}
	slog.Warn("health check failed", "check", name, "error", err)
	s.Checks[name] = "failing"
	s.OK = false
	s.Status = "NOT_SERVING"
}

// ServeHTTP handles GET /health.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.Check(r.Context())
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, st)
}
