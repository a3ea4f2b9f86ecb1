// Package client is a Go client for the auth API, including the verification polling and
// finalize flow browser clients run after signup.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the auth API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for baseURL. A nil httpClient uses a client with a 15s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth api: HTTP %d", e.Status)
	}
	return fmt.Sprintf("auth api: %s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Preferences are the learning preferences sent at signup or finalize.
type Preferences struct {
	PreferredLanguage       string `json:"preferredLanguage,omitempty"`
	SpokenLanguage          string `json:"spokenLanguage,omitempty"`
	SpokenLanguageSecondary string `json:"spokenLanguageSecondary,omitempty"`
}

// User is an account as returned by login and /me.
type User struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Providers []string `json:"providers,omitempty"`
}

// Session is a successful login.
type Session struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
	User      User   `json:"user"`
}

// FinalizeRequest is the body of POST /finalize.
type FinalizeRequest struct {
	Username    string       `json:"username,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// FinalizeResult is the response of POST /finalize.
type FinalizeResult struct {
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

// ResetDispatch is the response of POST /password-reset/request.
type ResetDispatch struct {
	DevLink string `json:"devLink,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Mapping is the response of the username resolve and register calls.
type Mapping struct {
	Username   string `json:"username"`
	ExternalID string `json:"externalId"`
	Email      string `json:"email"`
	Provider   string `json:"provider"`
}

// Profile is the response of GET /profile.
type Profile struct {
	ExternalID  string      `json:"externalId"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Preferences Preferences `json:"preferences"`
	Verified    bool        `json:"verified"`
}

// Signup creates or replaces the pending signup for username.
func (c *Client) Signup(ctx context.Context, username, password string, prefs Preferences) error {
	body := struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Preferences
	}{username, password, prefs}
	return c.do(ctx, http.MethodPost, "/signup", "", body, nil)
}

// Finalize completes signup for the identity behind idToken.
func (c *Client) Finalize(ctx context.Context, idToken string, req FinalizeRequest) (*FinalizeResult, error) {
	var out FinalizeResult
	if err := c.do(ctx, http.MethodPost, "/finalize", idToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges a username and password for a session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ErrSessionExpired is returned by RestoreSession when the stored token is no longer accepted.
var ErrSessionExpired = errors.New("auth api: session expired")

// Me returns the account behind sessionToken.
func (c *Client) Me(ctx context.Context, sessionToken string) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/me", sessionToken, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// RestoreSession exchanges a persisted session token for the current user. A rejected token
// returns ErrSessionExpired so callers can drop it and show the login form.
func (c *Client) RestoreSession(ctx context.Context, sessionToken string) (*User, error) {
	if sessionToken == "" {
		return nil, ErrSessionExpired
	}
	u, err := c.Me(ctx, sessionToken)
	if IsCode(err, "UNAUTHORIZED") {
		return nil, ErrSessionExpired
	}
	return u, err
}

// RequestPasswordReset starts a reset for username.
func (c *Client) RequestPasswordReset(ctx context.Context, username string) (*ResetDispatch, error) {
	var out ResetDispatch
	if err := c.do(ctx, http.MethodPost, "/password-reset/request", "", map[string]string{"username": username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmPasswordReset sets a new password with a reset token.
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/password-reset/confirm", "", body, nil)
}

// ConfirmPasswordResetByHint sets a new password for the account named by username or email,
// proven by idToken. Returns the username that was reset.
func (c *Client) ConfirmPasswordResetByHint(ctx context.Context, idToken, username, email, newPassword string) (string, error) {
	body := map[string]string{"username": username, "email": email, "newPassword": newPassword}
	var out struct {
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodPost, "/password-reset/confirm-by-hint", idToken, body, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// ChangePassword replaces the password after checking the old one.
func (c *Client) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	body := map[string]string{"username": username, "oldPassword": oldPassword, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/password/change", "", body, nil)
}

// ResolveUsername looks up who owns username.
func (c *Client) ResolveUsername(ctx context.Context, username string) (*Mapping, error) {
	var out Mapping
	if err := c.do(ctx, http.MethodPost, "/usernames/resolve", "", map[string]string{"username": username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the caller's profile; bearer is an identity token or a session token.
func (c *Client) Profile(ctx context.Context, bearer string) (*Profile, error) {
	var out struct {
		Profile Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodGet, "/profile", bearer, nil, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("auth api: encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("auth api: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("auth api: decode %s: %w", path, err)
	}
	return nil
}
