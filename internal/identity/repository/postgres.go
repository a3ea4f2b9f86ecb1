package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"pses-auth/internal/identity/domain"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository on database/sql with the pgx driver.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping verifies the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return classifyPG(r.db.PingContext(ctx))
}

// GetPendingSignup returns the pending signup for username, or nil if not found.
func (r *PostgresRepository) GetPendingSignup(ctx context.Context, username string) (*domain.PendingSignup, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT username, password_hash, preferred_language, spoken_language, spoken_language_secondary,
       verified, created_at, updated_at
FROM pending_signups WHERE username = $1`, username)
	var (
		p    domain.PendingSignup
		hash sql.NullString
	)
	err := row.Scan(&p.Username, &hash, &p.Preferences.PreferredLanguage, &p.Preferences.SpokenLanguage,
		&p.Preferences.SpokenLanguageSecondary, &p.Verified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPG(err)
	}
	p.PasswordHash = hash.String
	return &p, nil
}

// UpsertPendingSignup inserts or overwrites the pending signup keyed by username.
func (r *PostgresRepository) UpsertPendingSignup(ctx context.Context, p *domain.PendingSignup) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pending_signups (username, password_hash, preferred_language, spoken_language,
                             spoken_language_secondary, verified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (username) DO UPDATE SET
    password_hash = EXCLUDED.password_hash,
    preferred_language = EXCLUDED.preferred_language,
    spoken_language = EXCLUDED.spoken_language,
    spoken_language_secondary = EXCLUDED.spoken_language_secondary,
    updated_at = EXCLUDED.updated_at`,
		p.Username, nullString(p.PasswordHash), p.Preferences.PreferredLanguage, p.Preferences.SpokenLanguage,
		p.Preferences.SpokenLanguageSecondary, p.Verified, nowOr(p.UpdatedAt))
	return classifyPG(err)
}

// MarkPendingSignupVerified flags the pending signup as consumed. Missing rows are ignored.
func (r *PostgresRepository) MarkPendingSignupVerified(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_signups SET verified = TRUE, updated_at = now() WHERE username = $1`, username)
	return classifyPG(err)
}

const credentialColumns = `id, username, password_hash, providers, email, phone_number, verified,
       reset_token_hash, reset_token_expires_at, created_at, updated_at`

// GetCredential returns the credential for username, or nil if not found.
func (r *PostgresRepository) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE username = $1`, username)
	var (
		c                             domain.Credential
		hash, email, phone, resetHash sql.NullString
		resetExp                      sql.NullTime
		providers                     []string
	)
	err := row.Scan(&c.ID, &c.Username, &hash, pgtype.NewMap().SQLScanner(&providers), &email, &phone, &c.Verified,
		&resetHash, &resetExp, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPG(err)
	}
	c.PasswordHash = hash.String
	c.Providers = providers
	c.Email = email.String
	c.PhoneNumber = phone.String
	c.ResetTokenHash = resetHash.String
	if resetExp.Valid {
		t := resetExp.Time
		c.ResetTokenExpiresAt = &t
	}
	return &c, nil
}

// UpsertCredential inserts or overwrites the credential keyed by username. The credential must have ID set.
func (r *PostgresRepository) UpsertCredential(ctx context.Context, c *domain.Credential) error {
	var resetExp sql.NullTime
	if c.ResetTokenExpiresAt != nil {
		resetExp = sql.NullTime{Time: *c.ResetTokenExpiresAt, Valid: true}
	}
	providers := c.Providers
	if providers == nil {
		providers = []string{}
	}
	now := nowOr(c.UpdatedAt)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO credentials (id, username, password_hash, providers, email, phone_number, verified,
                         reset_token_hash, reset_token_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (username) DO UPDATE SET
    password_hash = EXCLUDED.password_hash,
    providers = EXCLUDED.providers,
    email = EXCLUDED.email,
    phone_number = EXCLUDED.phone_number,
    verified = EXCLUDED.verified,
    reset_token_hash = EXCLUDED.reset_token_hash,
    reset_token_expires_at = EXCLUDED.reset_token_expires_at,
    updated_at = EXCLUDED.updated_at`,
		c.ID, c.Username, nullString(c.PasswordHash), providers, nullString(c.Email), nullString(c.PhoneNumber),
		c.Verified, nullString(c.ResetTokenHash), resetExp, now)
	return classifyPG(err)
}

// UpdatePasswordHash replaces the password hash and records the password provider.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE credentials SET
    password_hash = $2,
    providers = CASE WHEN 'password' = ANY(providers) THEN providers ELSE array_append(providers, 'password') END,
    updated_at = now()
WHERE username = $1`, username, passwordHash)
	return classifyPG(err)
}

// ConsumeResetToken swaps in the new hash and clears reset state in one statement guarded by the stored hash and expiry.
func (r *PostgresRepository) ConsumeResetToken(ctx context.Context, username, tokenHash, passwordHash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE credentials SET
    password_hash = $4,
    reset_token_hash = NULL,
    reset_token_expires_at = NULL,
    providers = CASE WHEN 'password' = ANY(providers) THEN providers ELSE array_append(providers, 'password') END,
    updated_at = $3
WHERE username = $1 AND reset_token_hash = $2 AND reset_token_expires_at >= $3`,
		username, tokenHash, now, passwordHash)
	if err != nil {
		return false, classifyPG(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classifyPG(err)
	}
	return n == 1, nil
}

const mappingColumns = `username, external_id, email, provider, created_at, updated_at`

// GetMappingByUsername returns the mapping for username, or nil if not found.
func (r *PostgresRepository) GetMappingByUsername(ctx context.Context, username string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, `SELECT `+mappingColumns+` FROM identity_mappings WHERE username = $1`, username)
}

// GetMappingByExternalID returns the most recently updated mapping for externalID, or nil if not found.
func (r *PostgresRepository) GetMappingByExternalID(ctx context.Context, externalID string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, `SELECT `+mappingColumns+` FROM identity_mappings WHERE external_id = $1
ORDER BY updated_at DESC LIMIT 1`, externalID)
}

// FindMappingByEmail returns a mapping whose email matches case-insensitively, or nil if not found.
func (r *PostgresRepository) FindMappingByEmail(ctx context.Context, email string) (*domain.IdentityMapping, error) {
	return r.getMapping(ctx, `SELECT `+mappingColumns+` FROM identity_mappings WHERE lower(email) = lower($1)
ORDER BY updated_at DESC LIMIT 1`, email)
}

func (r *PostgresRepository) getMapping(ctx context.Context, query string, arg string) (*domain.IdentityMapping, error) {
	var (
		m               domain.IdentityMapping
		email, provider sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&m.Username, &m.ExternalID, &email, &provider, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPG(err)
	}
	m.Email = email.String
	m.Provider = provider.String
	return &m, nil
}

// BindMapping upserts on username but only updates a row already bound to the same external id.
// Zero affected rows means another external id holds the username.
func (r *PostgresRepository) BindMapping(ctx context.Context, m *domain.IdentityMapping) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO identity_mappings (username, external_id, email, provider, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (username) DO UPDATE SET
    email = EXCLUDED.email,
    provider = EXCLUDED.provider,
    updated_at = EXCLUDED.updated_at
WHERE identity_mappings.external_id = EXCLUDED.external_id`,
		m.Username, m.ExternalID, nullString(m.Email), nullString(m.Provider), nowOr(m.UpdatedAt))
	if err != nil {
		return classifyPG(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyPG(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: identity_mappings_username_key", ErrDuplicate)
	}
	return nil
}

const profileColumns = `external_id, email, username, preferred_language, spoken_language,
       spoken_language_secondary, verified, created_at, updated_at`

// GetProfileByExternalID returns the profile for externalID, or nil if not found.
func (r *PostgresRepository) GetProfileByExternalID(ctx context.Context, externalID string) (*domain.Profile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE external_id = $1`, externalID)
}

// GetProfileByUsername returns the profile for username, or nil if not found.
func (r *PostgresRepository) GetProfileByUsername(ctx context.Context, username string) (*domain.Profile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE username = $1`, username)
}

// FindProfileByEmail returns a profile whose email matches case-insensitively, or nil if not found.
func (r *PostgresRepository) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return r.getProfile(ctx, `SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)
ORDER BY updated_at DESC LIMIT 1`, email)
}

func (r *PostgresRepository) getProfile(ctx context.Context, query string, arg string) (*domain.Profile, error) {
	var (
		p               domain.Profile
		email, username sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&p.ExternalID, &email, &username,
		&p.Preferences.PreferredLanguage, &p.Preferences.SpokenLanguage, &p.Preferences.SpokenLanguageSecondary,
		&p.Verified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPG(err)
	}
	p.Email = email.String
	p.Username = username.String
	return &p, nil
}

// UpsertProfile inserts or overwrites the profile keyed by external id.
func (r *PostgresRepository) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO profiles (external_id, email, username, preferred_language, spoken_language,
                      spoken_language_secondary, verified, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (external_id) DO UPDATE SET
    email = EXCLUDED.email,
    username = EXCLUDED.username,
    preferred_language = EXCLUDED.preferred_language,
    spoken_language = EXCLUDED.spoken_language,
    spoken_language_secondary = EXCLUDED.spoken_language_secondary,
    verified = EXCLUDED.verified,
    updated_at = EXCLUDED.updated_at`,
		p.ExternalID, nullString(p.Email), nullString(p.Username), p.Preferences.PreferredLanguage,
		p.Preferences.SpokenLanguage, p.Preferences.SpokenLanguageSecondary, p.Verified, nowOr(p.UpdatedAt))
	return classifyPG(err)
}

// MarkProfileVerified sets verified on the profile for externalID. Missing rows are ignored.
func (r *PostgresRepository) MarkProfileVerified(ctx context.Context, externalID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET verified = TRUE, updated_at = now() WHERE external_id = $1`, externalID)
	return classifyPG(err)
}

// classifyPG maps unique violations to ErrDuplicate and connection-level failures to ErrUnavailable.
// Anything else is returned unchanged.
func classifyPG(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return err
	}
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
