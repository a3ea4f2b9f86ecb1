// Package handler exposes the identity service over JSON/HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"pses-auth/internal/externalid"
	"pses-auth/internal/identity/domain"
	"pses-auth/internal/identity/service"
	"pses-auth/internal/platform/apierrors"
	"pses-auth/internal/platform/response"
	"pses-auth/internal/security"
	"pses-auth/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// AuthService is the part of service.AuthService the HTTP layer calls.
type AuthService interface {
	Signup(ctx context.Context, in service.SignupInput) (*service.SignupResult, error)
	Finalize(ctx context.Context, ident *domain.ExternalIdentity, in service.FinalizeInput) (*service.FinalizeResult, error)
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Me(claims *security.SessionClaims) service.User
	RequestPasswordReset(ctx context.Context, username string) (*service.ResetDispatch, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	ResetPasswordByIdentityHint(ctx context.Context, ident *domain.ExternalIdentity, in service.HintResetInput) (string, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	ResolveUsername(ctx context.Context, username string) (*domain.IdentityMapping, error)
	RegisterUsername(ctx context.Context, ident *domain.ExternalIdentity, username, email string) (*domain.IdentityMapping, error)
	GetProfile(ctx context.Context, q service.ProfileLookup) (*domain.Profile, error)
}

// Options carries the collaborators the routes need besides the service.
type Options struct {
	Verifier externalid.Verifier
	Tokens   *security.TokenIssuer
	// RateLimit wraps the login, password reset and username resolve routes. Nil disables it.
	RateLimit func(http.Handler) http.Handler
}

// AuthHandler handles the auth API routes.
type AuthHandler struct {
	svc      AuthService
	opts     Options
	validate *validator.Validate
}

// NewAuthHandler returns an AuthHandler backed by svc.
func NewAuthHandler(svc AuthService, opts Options) *AuthHandler {
	return &AuthHandler{svc: svc, opts: opts, validate: validator.New()}
}

// Routes returns a chi router with the auth routes.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	limited := h.opts.RateLimit
	if limited == nil {
		limited = func(next http.Handler) http.Handler { return next }
	}
	identity := middleware.RequireExternalIdentity(h.opts.Verifier)

	r.Post("/signup", h.Signup)
	r.With(limited).Post("/login", h.Login)
	r.With(middleware.RequireSession(h.opts.Tokens)).Get("/me", h.Me)
	r.With(identity).Post("/finalize", h.Finalize)

	r.With(limited).Post("/password-reset/request", h.RequestPasswordReset)
	r.With(limited).Post("/password-reset/confirm", h.ConfirmPasswordReset)
	r.With(limited, identity).Post("/password-reset/confirm-by-hint", h.ConfirmPasswordResetByHint)
	r.Post("/password/change", h.ChangePassword)

	r.With(limited).Post("/usernames/resolve", h.ResolveUsername)
	r.With(identity).Post("/usernames/register", h.RegisterUsername)
	r.With(middleware.RequireIdentityOrSession(h.opts.Verifier, h.opts.Tokens)).Get("/profile", h.Profile)
	return r
}

// PreferencesBody is the learning preferences object on the wire.
type PreferencesBody struct {
	PreferredLanguage       string `json:"preferredLanguage,omitempty"`
	SpokenLanguage          string `json:"spokenLanguage,omitempty"`
	SpokenLanguageSecondary string `json:"spokenLanguageSecondary,omitempty"`
}

func (p PreferencesBody) domain() domain.Preferences {
	return domain.Preferences{
		PreferredLanguage:       p.PreferredLanguage,
		SpokenLanguage:          p.SpokenLanguage,
		SpokenLanguageSecondary: p.SpokenLanguageSecondary,
	}
}

func preferencesBody(p domain.Preferences) PreferencesBody {
	return PreferencesBody{
		PreferredLanguage:       p.PreferredLanguage,
		SpokenLanguage:          p.SpokenLanguage,
		SpokenLanguageSecondary: p.SpokenLanguageSecondary,
	}
}

// SignupRequest is the body of POST /signup.
type SignupRequest struct {
	Username                string `json:"username" validate:"required"`
	Password                string `json:"password" validate:"required"`
	PreferredLanguage       string `json:"preferredLanguage"`
	SpokenLanguage          string `json:"spokenLanguage"`
	SpokenLanguageSecondary string `json:"spokenLanguageSecondary"`
}

// Signup handles POST /signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Signup(r.Context(), service.SignupInput{
		Username: req.Username,
		Password: req.Password,
		Preferences: domain.Preferences{
			PreferredLanguage:       req.PreferredLanguage,
			SpokenLanguage:          req.SpokenLanguage,
			SpokenLanguageSecondary: req.SpokenLanguageSecondary,
		},
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true, "username": res.Username, "pending": res.Pending})
}

// FinalizeRequest is the body of POST /finalize. Username may be omitted when the caller's
// identity already owns a mapping.
type FinalizeRequest struct {
	Username    string           `json:"username"`
	Preferences *PreferencesBody `json:"preferences"`
}

// Finalize handles POST /finalize.
func (h *AuthHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	ident, _ := middleware.ExternalIdentity(r.Context())
	var req FinalizeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	in := service.FinalizeInput{Username: req.Username}
	if req.Preferences != nil {
		prefs := req.Preferences.domain()
		in.Preferences = &prefs
	}
	res, err := h.svc.Finalize(r.Context(), ident, in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true, "verified": res.Verified, "username": res.Username})
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserBody is the public view of an account.
type UserBody struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Providers []string `json:"providers,omitempty"`
}

func userBody(u service.User) UserBody {
	return UserBody{Username: u.Username, Email: u.Email, Providers: u.Providers}
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{
		"ok":        true,
		"token":     res.Token,
		"expiresAt": res.ExpiresAt.UTC().Format(time.RFC3339),
		"user":      userBody(res.User),
	})
}

// Me handles GET /me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.Session(r.Context())
	if !ok {
		response.Unauthorized(w)
		return
	}
	u := h.svc.Me(claims)
	if u.Providers == nil {
		u.Providers = []string{}
	}
	response.OK(w, map[string]any{"ok": true, "user": userBody(u)})
}

// ResetRequest is the body of POST /password-reset/request.
type ResetRequest struct {
	Username string `json:"username" validate:"required"`
}

// RequestPasswordReset handles POST /password-reset/request. Without a mailer the link comes
// back as devLink.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.RequestPasswordReset(r.Context(), req.Username)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	body := map[string]any{"ok": true}
	if res.DevLink != "" {
		body["devLink"] = res.DevLink
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	response.OK(w, body)
}

// ResetConfirmRequest is the body of POST /password-reset/confirm.
type ResetConfirmRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// ConfirmPasswordReset handles POST /password-reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true})
}

// HintResetRequest is the body of POST /password-reset/confirm-by-hint.
type HintResetRequest struct {
	Username    string `json:"username" validate:"required_without=Email"`
	Email       string `json:"email" validate:"omitempty,email"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// ConfirmPasswordResetByHint handles POST /password-reset/confirm-by-hint.
func (h *AuthHandler) ConfirmPasswordResetByHint(w http.ResponseWriter, r *http.Request) {
	ident, _ := middleware.ExternalIdentity(r.Context())
	var req HintResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	username, err := h.svc.ResetPasswordByIdentityHint(r.Context(), ident, service.HintResetInput{
		Username:    req.Username,
		Email:       req.Email,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true, "username": username})
}

// ChangePasswordRequest is the body of POST /password/change.
type ChangePasswordRequest struct {
	Username    string `json:"username" validate:"required"`
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// ChangePassword handles POST /password/change.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), req.Username, req.OldPassword, req.NewPassword); err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true})
}

// ResolveRequest is the body of POST /usernames/resolve.
type ResolveRequest struct {
	Username string `json:"username" validate:"required"`
}

// MappingBody is the public view of an identity mapping.
type MappingBody struct {
	OK         bool   `json:"ok"`
	Username   string `json:"username"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
	Provider   string `json:"provider"`
}

func mappingBody(m *domain.IdentityMapping) MappingBody {
	return MappingBody{OK: true, Username: m.Username, ExternalID: m.ExternalID, Email: m.Email, Provider: m.Provider}
}

// ResolveUsername handles POST /usernames/resolve.
func (h *AuthHandler) ResolveUsername(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.ResolveUsername(r.Context(), req.Username)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, mappingBody(m))
}

// RegisterRequest is the body of POST /usernames/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// RegisterUsername handles POST /usernames/register.
func (h *AuthHandler) RegisterUsername(w http.ResponseWriter, r *http.Request) {
	ident, _ := middleware.ExternalIdentity(r.Context())
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.RegisterUsername(r.Context(), ident, req.Username, req.Email)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, mappingBody(m))
}

// ProfileBody is the public view of a profile.
type ProfileBody struct {
	ExternalID  string          `json:"externalId"`
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Preferences PreferencesBody `json:"preferences"`
	Verified    bool            `json:"verified"`
}

// Profile handles GET /profile for either an external identity or a session.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	var q service.ProfileLookup
	if ident, ok := middleware.ExternalIdentity(r.Context()); ok {
		q.ExternalID = ident.ExternalID
		q.IdentityVerified = ident.IsVerified()
	} else if claims, ok := middleware.Session(r.Context()); ok {
		q.ExternalID = claims.Subject
		q.Username = claims.Username
	} else {
		response.Unauthorized(w)
		return
	}
	p, err := h.svc.GetProfile(r.Context(), q)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ok": true, "profile": ProfileBody{
		ExternalID:  p.ExternalID,
		Username:    p.Username,
		Email:       p.Email,
		Preferences: preferencesBody(p.Preferences),
		Verified:    p.Verified,
	}})
}

// decode reads a required JSON body into dst and validates it.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for routes where an empty body is allowed.
func (h *AuthHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	return h.check(w, dst)
}

func (h *AuthHandler) check(w http.ResponseWriter, dst any) bool {
	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		response.Error(w, apierrors.ErrValidation)
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonName(fe.Field())] = validationMessage(fe)
	}
	response.ValidationErrors(w, fields)
	return false
}
