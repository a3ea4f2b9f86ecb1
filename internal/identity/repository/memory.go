package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"pses-auth/internal/identity/domain"
)

// MemoryRepository is an in-memory Repository for tests and local tooling.
// It enforces the same uniqueness rules as the durable backends. The server never uses it.
type MemoryRepository struct {
	mu          sync.RWMutex
	pending     map[string]domain.PendingSignup
	credentials map[string]domain.Credential
	mappings    map[string]domain.IdentityMapping
	profiles    map[string]domain.Profile
	nowF        func() time.Time

	// PingErr, when set, is returned by Ping and every operation.
	PingErr error
}

// NewMemoryRepository returns an empty in-memory account store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pending:     make(map[string]domain.PendingSignup),
		credentials: make(map[string]domain.Credential),
		mappings:    make(map[string]domain.IdentityMapping),
		profiles:    make(map[string]domain.Profile),
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// Ping returns PingErr.
func (r *MemoryRepository) Ping(ctx context.Context) error { return r.PingErr }

// Counts returns the number of pending signups, credentials, mappings and profiles.
func (r *MemoryRepository) Counts() (pending, credentials, mappings, profiles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending), len(r.credentials), len(r.mappings), len(r.profiles)
}

func (r *MemoryRepository) GetPendingSignup(ctx context.Context, username string) (*domain.PendingSignup, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[username]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) UpsertPendingSignup(ctx context.Context, p *domain.PendingSignup) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowF()
	cp := *p
	if existing, ok := r.pending[p.Username]; ok {
		cp.Verified = existing.Verified
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.pending[p.Username] = cp
	return nil
}

func (r *MemoryRepository) MarkPendingSignupVerified(ctx context.Context, username string) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[username]; ok {
		p.Verified = true
		p.UpdatedAt = r.nowF()
		r.pending[username] = p
	}
	return nil
}

func (r *MemoryRepository) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[username]
	if !ok {
		return nil, nil
	}
	return cloneCredential(c), nil
}

func (r *MemoryRepository) UpsertCredential(ctx context.Context, c *domain.Credential) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cloneCredential(*c)
	if existing, ok := r.credentials[c.Username]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.nowF()
	}
	cp.UpdatedAt = r.nowF()
	r.credentials[c.Username] = cp
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[username]
	if !ok {
		return nil
	}
	c.PasswordHash = passwordHash
	c.Providers = slices.Clone(c.Providers)
	c.AddProvider(domain.ProviderPassword)
	c.UpdatedAt = r.nowF()
	r.credentials[username] = c
	return nil
}

func (r *MemoryRepository) ConsumeResetToken(ctx context.Context, username, tokenHash, passwordHash string, now time.Time) (bool, error) {
	if r.PingErr != nil {
		return false, r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[username]
	if !ok || c.ResetTokenHash != tokenHash || !c.ResetActive(now) {
		return false, nil
	}
	c.PasswordHash = passwordHash
	c.ClearReset()
	c.Providers = slices.Clone(c.Providers)
	c.AddProvider(domain.ProviderPassword)
	c.UpdatedAt = now
	r.credentials[username] = c
	return true, nil
}

func (r *MemoryRepository) GetMappingByUsername(ctx context.Context, username string) (*domain.IdentityMapping, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[username]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepository) GetMappingByExternalID(ctx context.Context, externalID string) (*domain.IdentityMapping, error) {
	return r.findMapping(func(m domain.IdentityMapping) bool { return m.ExternalID == externalID })
}

func (r *MemoryRepository) FindMappingByEmail(ctx context.Context, email string) (*domain.IdentityMapping, error) {
	return r.findMapping(func(m domain.IdentityMapping) bool { return strings.EqualFold(m.Email, strings.TrimSpace(email)) })
}

func (r *MemoryRepository) findMapping(match func(domain.IdentityMapping) bool) (*domain.IdentityMapping, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.IdentityMapping
	for _, m := range r.mappings {
		if match(m) && (best == nil || m.UpdatedAt.After(best.UpdatedAt)) {
			cp := m
			best = &cp
		}
	}
	return best, nil
}

func (r *MemoryRepository) BindMapping(ctx context.Context, m *domain.IdentityMapping) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowF()
	cp := *m
	if existing, ok := r.mappings[m.Username]; ok {
		if existing.ExternalID != m.ExternalID {
			return fmt.Errorf("%w: identity_mappings_username_key", ErrDuplicate)
		}
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.mappings[m.Username] = cp
	return nil
}

func (r *MemoryRepository) GetProfileByExternalID(ctx context.Context, externalID string) (*domain.Profile, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[externalID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) GetProfileByUsername(ctx context.Context, username string) (*domain.Profile, error) {
	return r.findProfile(func(p domain.Profile) bool { return username != "" && p.Username == username })
}

func (r *MemoryRepository) FindProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return r.findProfile(func(p domain.Profile) bool { return strings.EqualFold(p.Email, strings.TrimSpace(email)) })
}

func (r *MemoryRepository) findProfile(match func(domain.Profile) bool) (*domain.Profile, error) {
	if r.PingErr != nil {
		return nil, r.PingErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.Profile
	for _, p := range r.profiles {
		if match(p) && (best == nil || p.UpdatedAt.After(best.UpdatedAt)) {
			cp := p
			best = &cp
		}
	}
	return best, nil
}

func (r *MemoryRepository) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Username != "" {
		for id, other := range r.profiles {
			if id != p.ExternalID && other.Username == p.Username {
				return fmt.Errorf("%w: profiles_username_key", ErrDuplicate)
			}
		}
	}
	now := r.nowF()
	cp := *p
	if existing, ok := r.profiles[p.ExternalID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.profiles[p.ExternalID] = cp
	return nil
}

func (r *MemoryRepository) MarkProfileVerified(ctx context.Context, externalID string) error {
	if r.PingErr != nil {
		return r.PingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[externalID]; ok {
		p.Verified = true
		p.UpdatedAt = r.nowF()
		r.profiles[externalID] = p
	}
	return nil
}

func cloneCredential(c domain.Credential) *domain.Credential {
	c.Providers = slices.Clone(c.Providers)
	if c.ResetTokenExpiresAt != nil {
		t := *c.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}
