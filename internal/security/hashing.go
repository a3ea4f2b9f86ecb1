package security

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used by existing password hashes.
const DefaultBcryptCost = 10

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int

	// dummy is compared against when no stored hash exists so that unknown
	// usernames take roughly as long as wrong passwords.
	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31.
// A non-positive cost selects DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("pses-dummy-password"), cost)
	return &Hasher{Cost: cost, dummy: dummy}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash. Returns nil if they
// match; returns bcrypt.ErrMismatchedHashAndPassword or a parse error otherwise.
// An empty hash is compared against a dummy hash and always fails.
func (h *Hasher) Compare(hash string, password []byte) error {
	if hash == "" {
		if len(h.dummy) > 0 {
			_ = bcrypt.CompareHashAndPassword(h.dummy, password)
		}
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}
