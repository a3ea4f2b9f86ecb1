package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pses-auth/internal/identity/domain"
	"pses-auth/internal/identity/repository"
	"pses-auth/internal/mailer"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/security"
	"pses-auth/internal/telemetry"
)

// Deps holds the collaborators of AuthService. Repo, Hasher, Tokens and Policy are required.
type Deps struct {
	Repo   repository.Repository
	Hasher *security.Hasher
	Tokens *security.TokenIssuer
	Policy policyengine.Evaluator
	// Mailer sends reset links. If nil, RequestPasswordReset returns a devLink instead.
	Mailer mailer.Sender
	// Events receives one AuthEvent per operation outcome. Optional.
	Events telemetry.EventEmitter
	// ClientIP extracts the caller address recorded on events. Optional.
	ClientIP func(context.Context) string
	// AppBaseURL is the web client URL reset links point to.
	AppBaseURL string
	// MailTimeout bounds one async reset mail. Defaults to 30s.
	MailTimeout time.Duration
}

// AuthService implements the signup → external verification → finalize reconciliation,
// password login, and the password reset flows.
type AuthService struct {
	repo        repository.Repository
	hasher      *security.Hasher
	tokens      *security.TokenIssuer
	policy      policyengine.Evaluator
	mailer      mailer.Sender
	events      telemetry.EventEmitter
	clientIP    func(context.Context) string
	appBaseURL  string
	mailTimeout time.Duration
	mailWG      sync.WaitGroup
	now         func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) (*AuthService, error) {
	switch {
	case d.Repo == nil:
		return nil, errors.New("identity service: repository is required")
	case d.Hasher == nil:
		return nil, errors.New("identity service: hasher is required")
	case d.Tokens == nil:
		return nil, errors.New("identity service: token issuer is required")
	case d.Policy == nil:
		return nil, errors.New("identity service: policy evaluator is required")
	}
	timeout := d.MailTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AuthService{
		repo:        d.Repo,
		hasher:      d.Hasher,
		tokens:      d.Tokens,
		policy:      d.Policy,
		mailer:      d.Mailer,
		events:      d.Events,
		clientIP:    d.ClientIP,
		appBaseURL:  d.AppBaseURL,
		mailTimeout: timeout,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the clock of the service and its token issuer. For tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.tokens.SetClock(now)
}

// MailEnabled reports whether reset links are mailed rather than returned.
func (s *AuthService) MailEnabled() bool { return s.mailer != nil }

// SignupInput is the pre-registration request.
type SignupInput struct {
	Username    string
	Password    string
	Preferences domain.Preferences
}

// SignupResult references the stored pending signup.
type SignupResult struct {
	Username string
	Pending  bool
}

// Signup validates and stores a pending signup. No credential, mapping or profile is written
// until the external identity is verified and Finalize runs.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (res *SignupResult, err error) {
	username := domain.NormalizeUsername(in.Username)
	defer func() { s.emit(ctx, eventSignup, username, "", err) }()

	if err := domain.ValidateUsername(username); err != nil {
		return nil, invalid("username", err)
	}
	if err := domain.ValidatePassword(in.Password); err != nil {
		return nil, invalid("password", err)
	}
	mapping, err := s.repo.GetMappingByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if mapping != nil {
		return nil, ErrUsernameTaken
	}
	hash, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	err = s.repo.UpsertPendingSignup(ctx, &domain.PendingSignup{
		Username:     username,
		PasswordHash: hash,
		Preferences:  in.Preferences.Trimmed(),
		UpdatedAt:    s.now(),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return &SignupResult{Username: username, Pending: true}, nil
}

// FinalizeInput names the account to link. Username may be empty when the identity already owns a mapping.
type FinalizeInput struct {
	Username    string
	Preferences *domain.Preferences
}

// FinalizeResult is the linked account.
type FinalizeResult struct {
	Username string
	Verified bool
}

// Finalize links a verified external identity to a pending signup (or re-confirms an existing link).
// It binds the mapping, writes the verified profile, promotes the pending password to a credential,
// and marks the pending record verified. Repeated calls converge on the same rows.
func (s *AuthService) Finalize(ctx context.Context, ident *domain.ExternalIdentity, in FinalizeInput) (res *FinalizeResult, err error) {
	username := domain.NormalizeUsername(in.Username)
	externalID := ""
	if ident != nil {
		externalID = ident.ExternalID
	}
	defer func() { s.emit(ctx, eventFinalize, username, externalID, err) }()

	if !ident.IsVerified() {
		return nil, ErrNotVerified
	}
	owned, err := s.repo.GetMappingByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeErr(err)
	}
	if username == "" {
		if owned == nil {
			return nil, invalidf("username", "username is required")
		}
		username = owned.Username
	}
	if err := domain.ValidateUsername(username); err != nil {
		return nil, invalid("username", err)
	}
	// An external identity owns at most one username; the profile is keyed by externalId.
	if owned != nil && owned.Username != username {
		return nil, ErrUsernameConflict
	}

	mapping, err := s.repo.GetMappingByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if mapping != nil && mapping.ExternalID != externalID {
		return nil, ErrUsernameConflict
	}
	pending, err := s.repo.GetPendingSignup(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if pending == nil && mapping == nil {
		return nil, ErrPendingSignupNotFound
	}

	email := strings.TrimSpace(ident.Email)
	if email == "" {
		email = domain.AliasEmail(username)
	}
	now := s.now()
	err = s.repo.BindMapping(ctx, &domain.IdentityMapping{
		Username:   username,
		ExternalID: externalID,
		Email:      email,
		Provider:   providerOf(ident),
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, bindErr(err)
	}

	profile, err := s.repo.GetProfileByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeErr(err)
	}
	prefs := domain.Preferences{}
	if profile != nil {
		prefs = profile.Preferences
	}
	if pending != nil {
		prefs = prefs.Merge(pending.Preferences)
	}
	if in.Preferences != nil {
		prefs = prefs.Merge(in.Preferences.Trimmed())
	}
	err = s.repo.UpsertProfile(ctx, &domain.Profile{
		ExternalID:  externalID,
		Email:       email,
		Username:    username,
		Preferences: prefs,
		Verified:    true,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, bindErr(err)
	}

	if pending != nil && pending.PasswordHash != "" {
		if err := s.promoteCredential(ctx, pending, ident, email, now); err != nil {
			return nil, err
		}
	}
	if pending != nil && !pending.Verified {
		if err := s.repo.MarkPendingSignupVerified(ctx, username); err != nil {
			return nil, storeErr(err)
		}
	}
	return &FinalizeResult{Username: username, Verified: true}, nil
}

// promoteCredential writes the pending password as the login credential. Once the pending record
// is verified, a password set later (reset or change) is not overwritten by a repeated finalize.
func (s *AuthService) promoteCredential(ctx context.Context, pending *domain.PendingSignup, ident *domain.ExternalIdentity, email string, now time.Time) error {
	cred, err := s.repo.GetCredential(ctx, pending.Username)
	if err != nil {
		return storeErr(err)
	}
	if cred == nil {
		cred = &domain.Credential{ID: uuid.New().String(), Username: pending.Username}
	}
	if cred.PasswordHash == "" || !pending.Verified {
		cred.PasswordHash = pending.PasswordHash
	}
	cred.AddProvider(domain.ProviderPassword)
	cred.Email = email
	if ident.PhoneNumber != "" {
		cred.PhoneNumber = ident.PhoneNumber
	}
	cred.Verified = true
	cred.UpdatedAt = now
	return bindErr(s.repo.UpsertCredential(ctx, cred))
}

// LoginResult is an issued session.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// User is the session-visible account summary.
type User struct {
	Username  string
	Email     string
	Providers []string
}

// Login checks the password and issues a session token. Unknown usernames, missing passwords
// and wrong passwords are indistinguishable; an unverified profile is NotVerified.
func (s *AuthService) Login(ctx context.Context, username, password string) (res *LoginResult, err error) {
	username = domain.NormalizeUsername(username)
	externalID := ""
	defer func() { s.emit(ctx, eventLogin, username, externalID, err) }()

	if username == "" || password == "" {
		return nil, invalidf("username", "username and password are required")
	}
	cred, err := s.repo.GetCredential(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if cred == nil || cred.PasswordHash == "" {
		_ = s.hasher.Compare("", []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(cred.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if profile == nil || !profile.Verified {
		return nil, ErrNotVerified
	}

	externalID = profile.ExternalID
	subject := profile.ExternalID
	if subject == "" {
		subject = cred.ID
	}
	email := profile.Email
	if email == "" {
		email = cred.Email
	}
	providers := cred.Providers
	if len(providers) == 0 {
		providers = []string{domain.ProviderPassword}
	}
	claims := security.SessionClaims{
		Username:      username,
		Email:         email,
		EmailVerified: true,
		Providers:     providers,
	}
	claims.Subject = subject
	token, exp, err := s.tokens.MintSession(claims)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: exp,
		User:      User{Username: username, Email: email, Providers: providers},
	}, nil
}

// Me returns the account summary carried by verified session claims. Sessions are stateless,
// so no store read is made.
func (s *AuthService) Me(claims *security.SessionClaims) User {
	providers := claims.Providers
	if len(providers) == 0 {
		providers = []string{domain.ProviderPassword}
	}
	return User{Username: claims.Username, Email: claims.Email, Providers: providers}
}

// providerOf maps the external sign-in provider onto the provider recorded on the mapping.
func providerOf(ident *domain.ExternalIdentity) string {
	switch p := strings.ToLower(ident.SignInProvider); {
	case p == "google.com" || p == domain.ProviderGoogle:
		return domain.ProviderGoogle
	case p == domain.ProviderPhone || (p == "" && ident.PhoneNumber != "" && ident.Email == ""):
		return domain.ProviderPhone
	default:
		return domain.ProviderPassword
	}
}
