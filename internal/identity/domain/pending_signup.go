package domain

import (
	"strings"
	"time"
)

// Preferences are the learning preferences captured at signup and copied onto the Profile at finalization.
type Preferences struct {
	PreferredLanguage       string
	SpokenLanguage          string
	SpokenLanguageSecondary string
}

// PendingSignup holds unconfirmed signup data keyed by username. It is upserted on each
// signup submission and flagged Verified (never deleted) once finalization succeeds.
type PendingSignup struct {
	Username     string
	PasswordHash string
	Preferences  Preferences
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Trimmed returns p with surrounding whitespace removed from every field.
func (p Preferences) Trimmed() Preferences {
	return Preferences{
		PreferredLanguage:       strings.TrimSpace(p.PreferredLanguage),
		SpokenLanguage:          strings.TrimSpace(p.SpokenLanguage),
		SpokenLanguageSecondary: strings.TrimSpace(p.SpokenLanguageSecondary),
	}
}

// Merge returns p with every non-empty field of other applied on top.
func (p Preferences) Merge(other Preferences) Preferences {
	if other.PreferredLanguage != "" {
		p.PreferredLanguage = other.PreferredLanguage
	}
	if other.SpokenLanguage != "" {
		p.SpokenLanguage = other.SpokenLanguage
	}
	if other.SpokenLanguageSecondary != "" {
		p.SpokenLanguageSecondary = other.SpokenLanguageSecondary
	}
	return p
}
