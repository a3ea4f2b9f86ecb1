package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pses-auth/internal/identity/domain"
	telemetrydomain "pses-auth/internal/telemetry/domain"
)

func TestResolveUsername(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signupAndFinalize(t, "alice", "secret1", "ext-a", "alice@example.com")

	m, err := h.svc.ResolveUsername(ctx, " ALICE ")
	if err != nil {
		t.Fatalf("ResolveUsername: %v", err)
	}
	want := &domain.IdentityMapping{Username: "alice", ExternalID: "ext-a", Email: "alice@example.com", Provider: domain.ProviderPassword}
	if diff := cmp.Diff(want, m, cmpopts.IgnoreFields(domain.IdentityMapping{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("mapping (-want +got):\n%s", diff)
	}
	if _, err := h.svc.ResolveUsername(ctx, "nobody"); !errors.Is(err, ErrUsernameNotFound) {
		t.Errorf("unknown username err = %v", err)
	}
	if _, err := h.svc.ResolveUsername(ctx, "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid username err = %v", err)
	}
}

func TestRegisterUsername(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	google := &domain.ExternalIdentity{ExternalID: "ext-g", Email: "gina@example.com", EmailVerified: true, SignInProvider: "google.com"}

	m, err := h.svc.RegisterUsername(ctx, google, "Gina", "")
	if err != nil {
		t.Fatalf("RegisterUsername: %v", err)
	}
	if m.Username != "gina" || m.Email != "gina@example.com" || m.Provider != domain.ProviderGoogle {
		t.Errorf("mapping = %+v", m)
	}
	profile, _ := h.repo.GetProfileByExternalID(ctx, "ext-g")
	if profile == nil || profile.Username != "gina" || profile.Verified {
		t.Fatalf("profile = %+v, want unverified profile for gina", profile)
	}
	if _, creds, _, _ := h.repo.Counts(); creds != 0 {
		t.Errorf("register wrote %d credentials, want none", creds)
	}

	// Re-registering the same pair is fine; another identity conflicts.
	if _, err := h.svc.RegisterUsername(ctx, google, "gina", "gina2@example.com"); err != nil {
		t.Errorf("re-register: %v", err)
	}
	other := &domain.ExternalIdentity{ExternalID: "ext-x", SignInProvider: "google.com"}
	if _, err := h.svc.RegisterUsername(ctx, other, "gina", ""); !errors.Is(err, ErrUsernameConflict) {
		t.Errorf("conflicting register err = %v", err)
	}
	if _, err := h.svc.RegisterUsername(ctx, other, "!!", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid username err = %v", err)
	}
	h.events.waitFor(t, telemetrydomain.EventUsernameRegister, false)
}

func TestGetProfile_BackfillsVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	google := &domain.ExternalIdentity{ExternalID: "ext-g", Email: "gina@example.com", SignInProvider: "google.com"}
	if _, err := h.svc.RegisterUsername(ctx, google, "gina", ""); err != nil {
		t.Fatalf("RegisterUsername: %v", err)
	}

	profile, err := h.svc.GetProfile(ctx, ProfileLookup{ExternalID: "ext-g", IdentityVerified: true})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Verified {
		t.Error("profile with a mapping should be backfilled to verified")
	}
	stored, _ := h.repo.GetProfileByExternalID(ctx, "ext-g")
	if !stored.Verified {
		t.Error("backfill should be persisted")
	}
	h.events.waitFor(t, telemetrydomain.EventProfileBackfill, true)
}

func TestGetProfile_NoMappingStaysUnverified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.repo.UpsertProfile(ctx, &domain.Profile{ExternalID: "ext-u", Username: "ursula"})

	profile, err := h.svc.GetProfile(ctx, ProfileLookup{Username: "Ursula"})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Verified {
		t.Error("profile without a mapping must stay unverified")
	}
	if _, err := h.svc.GetProfile(ctx, ProfileLookup{ExternalID: "missing"}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("missing profile err = %v", err)
	}
}

func TestRegisterUsername_RejectsUnverifiedIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unverified := &domain.ExternalIdentity{ExternalID: "ext-m", Email: "mallory@example.com", SignInProvider: domain.ProviderPassword}

	if _, err := h.svc.RegisterUsername(ctx, unverified, "mallory", "attacker@evil.test"); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("RegisterUsername err = %v, want ErrNotVerified", err)
	}
	if pending, creds, mappings, profiles := h.repo.Counts(); pending+creds+mappings+profiles != 0 {
		t.Errorf("rejected register wrote rows: pending=%d creds=%d mappings=%d profiles=%d", pending, creds, mappings, profiles)
	}
	if _, err := h.svc.GetProfile(ctx, ProfileLookup{ExternalID: "ext-m", IdentityVerified: unverified.IsVerified()}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetProfile err = %v, want ErrProfileNotFound", err)
	}
	if _, err := h.svc.RequestPasswordReset(ctx, "mallory"); !errors.Is(err, ErrAccountNotVerified) {
		t.Errorf("RequestPasswordReset err = %v, want ErrAccountNotVerified", err)
	}
	if _, err := h.svc.Login(ctx, "mallory", "whatever1"); err == nil {
		t.Error("Login succeeded for an identity that was never verified")
	}
}

func TestRegisterUsername_PrefersIdentityEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	google := &domain.ExternalIdentity{ExternalID: "ext-g", Email: "gina@example.com", EmailVerified: true, SignInProvider: "google.com"}

	m, err := h.svc.RegisterUsername(ctx, google, "gina", "someone-else@example.com")
	if err != nil {
		t.Fatalf("RegisterUsername: %v", err)
	}
	if m.Email != "gina@example.com" {
		t.Errorf("mapping email = %q, want the identity's email", m.Email)
	}

	phone := &domain.ExternalIdentity{ExternalID: "ext-p", PhoneNumber: "+15550100", SignInProvider: domain.ProviderPhone}
	m, err = h.svc.RegisterUsername(ctx, phone, "pat", "pat@example.com")
	if err != nil {
		t.Fatalf("RegisterUsername(phone): %v", err)
	}
	if m.Email != "pat@example.com" {
		t.Errorf("mapping email = %q, want the requested email when the identity has none", m.Email)
	}
}

func TestRegisterUsername_OneUsernamePerIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	google := &domain.ExternalIdentity{ExternalID: "ext-g", Email: "gina@example.com", EmailVerified: true, SignInProvider: "google.com"}
	if _, err := h.svc.RegisterUsername(ctx, google, "gina", ""); err != nil {
		t.Fatalf("RegisterUsername: %v", err)
	}

	if _, err := h.svc.RegisterUsername(ctx, google, "gina2", ""); !errors.Is(err, ErrUsernameConflict) {
		t.Fatalf("second username err = %v, want ErrUsernameConflict", err)
	}
	profile, _ := h.repo.GetProfileByExternalID(ctx, "ext-g")
	if profile == nil || profile.Username != "gina" {
		t.Errorf("profile = %+v, want username gina", profile)
	}
}

func TestGetProfile_NoBackfillWithoutVerifiedCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	google := &domain.ExternalIdentity{ExternalID: "ext-g", Email: "gina@example.com", EmailVerified: true, SignInProvider: "google.com"}
	if _, err := h.svc.RegisterUsername(ctx, google, "gina", ""); err != nil {
		t.Fatalf("RegisterUsername: %v", err)
	}

	tests := []struct {
		name string
		q    ProfileLookup
	}{
		{"unverified caller", ProfileLookup{ExternalID: "ext-g"}},
		{"username lookup", ProfileLookup{Username: "gina", IdentityVerified: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := h.svc.GetProfile(ctx, tt.q)
			if err != nil {
				t.Fatalf("GetProfile: %v", err)
			}
			if profile.Verified {
				t.Error("profile was backfilled without a verified caller for its identity")
			}
		})
	}
	if _, err := h.svc.RequestPasswordReset(ctx, "gina"); !errors.Is(err, ErrAccountNotVerified) {
		t.Errorf("RequestPasswordReset err = %v, want ErrAccountNotVerified", err)
	}
}
