package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// HashResetToken returns the unpadded base64url SHA-256 digest of a reset token.
// Only this digest is persisted; the raw token travels once, inside the reset link.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// ResetTokenHashEqual reports whether providedToken hashes to storedHash, in constant time.
// An empty storedHash never matches.
func ResetTokenHashEqual(providedToken, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	providedHash := HashResetToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
