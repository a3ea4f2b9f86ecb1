package repository

import (
	"context"
	"errors"
	"time"

	"pses-auth/internal/identity/domain"
)

var (
	// ErrDuplicate is returned when a write violates a uniqueness constraint
	// (username on mappings, credentials, profiles; external id on profiles).
	ErrDuplicate = errors.New("repository: duplicate key")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("repository: store unavailable")
)

// Getters return (nil, nil) when no row matches. Errors are reserved for store failures.

// PendingSignupRepository persists signup data awaiting external verification.
type PendingSignupRepository interface {
	GetPendingSignup(ctx context.Context, username string) (*domain.PendingSignup, error)
	// UpsertPendingSignup overwrites password hash and preferences; Verified is kept on update.
	UpsertPendingSignup(ctx context.Context, p *domain.PendingSignup) error
	MarkPendingSignupVerified(ctx context.Context, username string) error
}

// CredentialRepository persists password-login records keyed by username.
type CredentialRepository interface {
	GetCredential(ctx context.Context, username string) (*domain.Credential, error)
	// UpsertCredential writes every mutable field of c, inserting when username is new.
	UpsertCredential(ctx context.Context, c *domain.Credential) error
	// UpdatePasswordHash replaces the hash and adds the password provider. It does not touch reset state.
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error
	// ConsumeResetToken atomically replaces the password hash and clears reset state, but only
	// while the stored reset hash equals tokenHash and has not expired at now. Reports whether it applied.
	ConsumeResetToken(ctx context.Context, username, tokenHash, passwordHash string, now time.Time) (bool, error)
}

// MappingRepository persists username ↔ external identity bindings.
type MappingRepository interface {
	GetMappingByUsername(ctx context.Context, username string) (*domain.IdentityMapping, error)
	GetMappingByExternalID(ctx context.Context, externalID string) (*domain.IdentityMapping, error)
	// FindMappingByEmail matches email case-insensitively.
	FindMappingByEmail(ctx context.Context, email string) (*domain.IdentityMapping, error)
	// BindMapping inserts the mapping or refreshes email/provider when the username is already
	// bound to the same external id. Returns ErrDuplicate when it is bound to another one.
	BindMapping(ctx context.Context, m *domain.IdentityMapping) error
}

// ProfileRepository persists per-external-identity profiles.
type ProfileRepository interface {
	GetProfileByExternalID(ctx context.Context, externalID string) (*domain.Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*domain.Profile, error)
	// FindProfileByEmail matches email case-insensitively.
	FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error)
	// UpsertProfile writes every mutable field of p keyed by external id.
	UpsertProfile(ctx context.Context, p *domain.Profile) error
	MarkProfileVerified(ctx context.Context, externalID string) error
}

// Repository is the full account store: one backend serves all four collections.
type Repository interface {
	PendingSignupRepository
	CredentialRepository
	MappingRepository
	ProfileRepository
	Ping(ctx context.Context) error
}
