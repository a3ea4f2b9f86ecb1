package engine

import (
	"context"
	"testing"

	"pses-auth/internal/identity/domain"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	account := HintResetAccount{Username: "pses_user", ExternalID: "ext-1", Email: "User@Example.com", Verified: true}

	tests := []struct {
		name     string
		identity *domain.ExternalIdentity
		want     bool
	}{
		{"same external id", &domain.ExternalIdentity{ExternalID: "ext-1", EmailVerified: true}, true},
		{"same external id via federated login", &domain.ExternalIdentity{ExternalID: "ext-1", SignInProvider: "google.com"}, true},
		{"verified matching email", &domain.ExternalIdentity{ExternalID: "ext-9", Email: "user@example.COM", EmailVerified: true}, true},
		{"unverified matching email", &domain.ExternalIdentity{ExternalID: "ext-9", Email: "user@example.com", SignInProvider: "password"}, false},
		{"verified other email", &domain.ExternalIdentity{ExternalID: "ext-9", Email: "other@example.com", EmailVerified: true}, false},
		{"unverified same external id", &domain.ExternalIdentity{ExternalID: "ext-1", SignInProvider: "password"}, false},
		{"no identity", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.AllowHintReset(ctx, HintResetInput{Identity: tt.identity, Account: account})
			if err != nil {
				t.Fatalf("AllowHintReset: %v", err)
			}
			if got != tt.want {
				t.Errorf("AllowHintReset = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	policy := `package pses.hint_reset

default allow := false

allow if {
	input.identity.verified
	input.identity.external_id == input.account.external_id
	input.identity.sign_in_provider == "google.com"
}
`
	e, err := NewOPAEvaluator(ctx, policy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	account := HintResetAccount{ExternalID: "ext-1", Email: "u@example.com"}
	ok, err := e.AllowHintReset(ctx, HintResetInput{
		Identity: &domain.ExternalIdentity{ExternalID: "ext-1", Email: "u@example.com", EmailVerified: true},
		Account:  account,
	})
	if err != nil || ok {
		t.Errorf("email-verified identity under google-only policy: ok=%v err=%v, want denied", ok, err)
	}
	ok, err = e.AllowHintReset(ctx, HintResetInput{
		Identity: &domain.ExternalIdentity{ExternalID: "ext-1", SignInProvider: "google.com"},
		Account:  account,
	})
	if err != nil || !ok {
		t.Errorf("google identity: ok=%v err=%v, want allowed", ok, err)
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\n\nallow if {"); err == nil {
		t.Fatal("invalid policy should fail to compile")
	}
}
