package domain

// ExternalIdentity is what the external identity provider asserts about the caller.
// This service only reads these fields.
type ExternalIdentity struct {
	ExternalID     string
	Email          string
	EmailVerified  bool
	PhoneNumber    string
	SignInProvider string
}

// IsVerified reports whether the provider vouches for the identity: a verified email,
// a phone number, or a federated (non-password) sign-in.
func (e *ExternalIdentity) IsVerified() bool {
	if e == nil || e.ExternalID == "" {
		return false
	}
	if e.EmailVerified || e.PhoneNumber != "" {
		return true
	}
	return e.SignInProvider != "" && e.SignInProvider != ProviderPassword
}
