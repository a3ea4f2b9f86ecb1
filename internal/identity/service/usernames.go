package service

import (
	"context"
	"strings"

	"pses-auth/internal/identity/domain"
)

// ResolveUsername returns the mapping that owns username.
func (s *AuthService) ResolveUsername(ctx context.Context, username string) (*domain.IdentityMapping, error) {
	username = domain.NormalizeUsername(username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, invalid("username", err)
	}
	m, err := s.repo.GetMappingByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if m == nil {
		return nil, ErrUsernameNotFound
	}
	return m, nil
}

// RegisterUsername binds username to the caller's verified external identity without a password,
// for accounts created through a federated sign-in. The identity's own email wins over the one in
// the request. The profile keeps its verified flag; Finalize or the profile backfill sets it.
func (s *AuthService) RegisterUsername(ctx context.Context, ident *domain.ExternalIdentity, username, email string) (m *domain.IdentityMapping, err error) {
	username = domain.NormalizeUsername(username)
	externalID := ""
	if ident != nil {
		externalID = ident.ExternalID
	}
	defer func() { s.emit(ctx, eventUsernameRegister, username, externalID, err) }()

	if !ident.IsVerified() {
		return nil, ErrNotVerified
	}
	if err := domain.ValidateUsername(username); err != nil {
		return nil, invalid("username", err)
	}
	existing, err := s.repo.GetMappingByUsername(ctx, username)
	if err != nil {
		return nil, storeErr(err)
	}
	if existing != nil && existing.ExternalID != externalID {
		return nil, ErrUsernameConflict
	}
	owned, err := s.repo.GetMappingByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeErr(err)
	}
	if owned != nil && owned.Username != username {
		return nil, ErrUsernameConflict
	}

	if identEmail := strings.TrimSpace(ident.Email); identEmail != "" {
		email = identEmail
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = domain.AliasEmail(username)
	}
	now := s.now()
	m = &domain.IdentityMapping{
		Username:   username,
		ExternalID: externalID,
		Email:      email,
		Provider:   providerOf(ident),
		UpdatedAt:  now,
	}
	if err := s.repo.BindMapping(ctx, m); err != nil {
		return nil, bindErr(err)
	}

	profile, err := s.repo.GetProfileByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeErr(err)
	}
	if profile == nil {
		profile = &domain.Profile{ExternalID: externalID}
	}
	profile.Username = username
	profile.Email = email
	profile.UpdatedAt = now
	if err := s.repo.UpsertProfile(ctx, profile); err != nil {
		return nil, bindErr(err)
	}
	return m, nil
}

// ProfileLookup selects a profile by external id, falling back to username.
type ProfileLookup struct {
	ExternalID string
	Username   string
	// IdentityVerified is set when the caller presented an external identity the provider
	// vouches for, with ExternalID taken from it. Only such callers trigger the backfill.
	IdentityVerified bool
}

// GetProfile returns the caller's profile. An unverified profile whose external id already owns a
// mapping is marked verified and persisted before it is returned, but only when the caller proved
// that same identity verified.
func (s *AuthService) GetProfile(ctx context.Context, q ProfileLookup) (*domain.Profile, error) {
	var profile *domain.Profile
	var err error
	if q.ExternalID != "" {
		if profile, err = s.repo.GetProfileByExternalID(ctx, q.ExternalID); err != nil {
			return nil, storeErr(err)
		}
	}
	if profile == nil && q.Username != "" {
		if profile, err = s.repo.GetProfileByUsername(ctx, domain.NormalizeUsername(q.Username)); err != nil {
			return nil, storeErr(err)
		}
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}
	if profile.Verified || !q.IdentityVerified || profile.ExternalID != q.ExternalID {
		return profile, nil
	}
	mapping, err := s.repo.GetMappingByExternalID(ctx, profile.ExternalID)
	if err != nil {
		return nil, storeErr(err)
	}
	if mapping == nil {
		return profile, nil
	}
	if err := s.repo.MarkProfileVerified(ctx, profile.ExternalID); err != nil {
		return nil, storeErr(err)
	}
	profile.Verified = true
	s.emit(ctx, eventProfileBackfill, profile.Username, profile.ExternalID, nil)
	return profile, nil
}
