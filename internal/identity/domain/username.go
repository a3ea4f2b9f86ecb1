package domain

import (
	"errors"
	"regexp"
	"strings"
)

// AliasEmailDomain is used to synthesize an email when the external identity has none.
const AliasEmailDomain = "pses.local"

// MinPasswordLength is the shortest password accepted at signup, reset and change.
const MinPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{3,20}$`)

// NormalizeUsername trims and lowercases a username. Idempotent.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks a normalized username: 3–20 characters of a-z, 0-9, '.', '_' or '-'.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-20 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidatePassword checks the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

// AliasEmail returns the placeholder email recorded for identities without one.
func AliasEmail(username string) string {
	return username + "@" + AliasEmailDomain
}
