package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"pses-auth/internal/identity/domain"
	"pses-auth/internal/mailer"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/security"
)

// devLinkWarning accompanies a devLink when no mailer is configured.
const devLinkWarning = "Email delivery is not configured; use devLink to reset the password."

// ResetDispatch reports how a reset link was delivered. DevLink is set only when mail is disabled.
type ResetDispatch struct {
	Mailed  bool
	DevLink string
	Warning string
}

// RequestPasswordReset issues a single-use reset token for a verified account with a deliverable
// email, stores its hash on the credential, and mails the link (or returns it in dev mode).
func (s *AuthService) RequestPasswordReset(ctx context.Context, username string) (res *ResetDispatch, err error) {
	username = domain.NormalizeUsername(username)
	defer func() { s.emit(ctx, eventResetRequested, username, "", err) }()

	if username == "" {
		return nil, invalidf("username", "username is required")
	}
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if profile == nil || !profile.Verified {
		return nil, ErrAccountNotVerified
	}
	cred, err := s.repo.GetCredential(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	email := profile.Email
	if email == "" && cred != nil {
		email = cred.Email
	}
	if !deliverable(email) {
		return nil, ErrNoEmailOnFile
	}

	token, expiresAt, err := s.tokens.MintReset(username)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		cred = &domain.Credential{
			ID:        uuid.New().String(),
			Username:  username,
			Email:     email,
			Verified:  profile.Verified,
			Providers: []string{domain.ProviderPassword},
		}
	}
	cred.ResetTokenHash = security.HashResetToken(token)
	cred.ResetTokenExpiresAt = &expiresAt
	cred.UpdatedAt = s.now()
	if err := s.repo.UpsertCredential(ctx, cred); err != nil {
		return nil, storeErr(err)
	}

	link, err := mailer.ResetLink(s.appBaseURL, token)
	if err != nil {
		return nil, err
	}
	if s.mailer == nil {
		return &ResetDispatch{DevLink: link, Warning: devLinkWarning}, nil
	}
	s.sendAsync(username, mailer.PasswordResetMessage(email, link, s.tokens.ResetTTL()))
	return &ResetDispatch{Mailed: true}, nil
}

// sendAsync mails msg on a detached goroutine bounded by mailTimeout. Failures are logged only.
func (s *AuthService) sendAsync(username string, msg mailer.Message) {
	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.mailTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, msg); err != nil {
			slog.Warn("reset mail failed", "username", username, "error", err)
		}
	}()
}

// WaitForMail blocks until in-flight reset mails finish or ctx is done.
func (s *AuthService) WaitForMail(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mailWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetPassword consumes a reset token. The token must verify, name an account whose stored
// hash matches, and still be within the stored expiry. A token works at most once.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	username := ""
	defer func() { s.emit(ctx, eventReset, username, "", err) }()

	if err := domain.ValidatePassword(newPassword); err != nil {
		return invalid("newPassword", err)
	}
	claims, err := s.tokens.VerifyReset(strings.TrimSpace(token))
	if err != nil {
		return ErrInvalidOrExpiredToken
	}
	username = claims.Username
	cred, err := s.repo.GetCredential(ctx, username)
	if err != nil {
		return storeErr(err)
	}
	now := s.now()
	if cred == nil || !cred.ResetActive(now) || !security.ResetTokenHashEqual(token, cred.ResetTokenHash) {
		return ErrInvalidOrExpiredToken
	}
	hash, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	applied, err := s.repo.ConsumeResetToken(ctx, username, cred.ResetTokenHash, hash, now)
	if err != nil {
		return storeErr(err)
	}
	if !applied {
		return ErrInvalidOrExpiredToken
	}
	return nil
}

// HintResetInput identifies the account by username or email.
type HintResetInput struct {
	Username    string
	Email       string
	NewPassword string
}

// ResetPasswordByIdentityHint sets a new password for the account the caller names by username
// or email, provided the caller's verified external identity satisfies the hint-reset policy.
func (s *AuthService) ResetPasswordByIdentityHint(ctx context.Context, ident *domain.ExternalIdentity, in HintResetInput) (username string, err error) {
	externalID := ""
	if ident != nil {
		externalID = ident.ExternalID
	}
	defer func() { s.emit(ctx, eventResetByHint, username, externalID, err) }()

	if !ident.IsVerified() {
		return "", ErrNotVerified
	}
	if err := domain.ValidatePassword(in.NewPassword); err != nil {
		return "", invalid("newPassword", err)
	}
	hintUser := domain.NormalizeUsername(in.Username)
	hintEmail := strings.TrimSpace(in.Email)
	if hintUser == "" && hintEmail == "" {
		return "", invalidf("email", "email or username is required")
	}

	username, err = s.resolveHint(ctx, hintUser, hintEmail)
	if err != nil {
		return "", err
	}
	account, cred, err := s.hintAccount(ctx, username)
	if err != nil {
		return username, err
	}
	allowed, err := s.policy.AllowHintReset(ctx, policyengine.HintResetInput{
		Identity:  ident,
		Account:   account,
		HintEmail: hintEmail,
		HintUser:  hintUser,
	})
	if err != nil || !allowed {
		return username, ErrIdentityMismatch
	}

	hash, err := s.hasher.Hash([]byte(in.NewPassword))
	if err != nil {
		return username, err
	}
	if cred == nil {
		cred = &domain.Credential{
			ID:       uuid.New().String(),
			Username: username,
			Email:    account.Email,
			Verified: account.Verified,
		}
	}
	cred.PasswordHash = hash
	cred.ClearReset()
	cred.AddProvider(domain.ProviderPassword)
	cred.UpdatedAt = s.now()
	if err := s.repo.UpsertCredential(ctx, cred); err != nil {
		return username, storeErr(err)
	}
	return username, nil
}

// resolveHint picks the username: explicit username first, then profile email, then mapping email.
func (s *AuthService) resolveHint(ctx context.Context, hintUser, hintEmail string) (string, error) {
	if hintUser != "" {
		return hintUser, nil
	}
	profile, err := s.repo.FindProfileByEmail(ctx, hintEmail)
	if err != nil {
		return "", storeErr(err)
	}
	if profile != nil && profile.Username != "" {
		return profile.Username, nil
	}
	mapping, err := s.repo.FindMappingByEmail(ctx, hintEmail)
	if err != nil {
		return "", storeErr(err)
	}
	if mapping != nil {
		return mapping.Username, nil
	}
	return "", ErrCredentialsNotFound
}

// hintAccount loads what the policy compares against. An account exists if any of profile,
// mapping or credential does.
func (s *AuthService) hintAccount(ctx context.Context, username string) (policyengine.HintResetAccount, *domain.Credential, error) {
	account := policyengine.HintResetAccount{Username: username}
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return account, nil, storeErr(err)
	}
	mapping, err := s.repo.GetMappingByUsername(ctx, username)
	if err != nil {
		return account, nil, storeErr(err)
	}
	cred, err := s.repo.GetCredential(ctx, username)
	if err != nil {
		return account, nil, storeErr(err)
	}
	if profile == nil && mapping == nil && cred == nil {
		return account, nil, ErrCredentialsNotFound
	}
	if profile != nil {
		account.ExternalID, account.Email, account.Verified = profile.ExternalID, profile.Email, profile.Verified
	}
	if mapping != nil {
		if account.ExternalID == "" {
			account.ExternalID = mapping.ExternalID
		}
		if account.Email == "" {
			account.Email = mapping.Email
		}
	}
	if cred != nil {
		if account.Email == "" {
			account.Email = cred.Email
		}
		account.Verified = account.Verified || cred.Verified
	}
	return account, cred, nil
}

// ChangePassword replaces the password after checking the current one. Reset state is untouched.
func (s *AuthService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (err error) {
	username = domain.NormalizeUsername(username)
	defer func() { s.emit(ctx, eventPasswordChange, username, "", err) }()

	if username == "" || oldPassword == "" {
		return invalidf("username", "username and oldPassword are required")
	}
	if err := domain.ValidatePassword(newPassword); err != nil {
		return invalid("newPassword", err)
	}
	cred, err := s.repo.GetCredential(ctx, username)
	if err != nil {
		return storeErr(err)
	}
	if cred == nil || cred.PasswordHash == "" {
		_ = s.hasher.Compare("", []byte(oldPassword))
		return ErrInvalidCredentials
	}
	if err := s.hasher.Compare(cred.PasswordHash, []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	return storeErr(s.repo.UpdatePasswordHash(ctx, username, hash))
}

// deliverable reports whether email can receive mail. Alias addresses cannot.
func deliverable(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && !strings.HasSuffix(strings.ToLower(email), "@"+domain.AliasEmailDomain)
}
