// seed creates a finalized development account that can log in with a password.
// Idempotent: skips when the dev username already has a mapping.
package main

import (
	"context"
	"fmt"
	"log"

	"pses-auth/internal/config"
	"pses-auth/internal/identity/domain"
	"pses-auth/internal/identity/service"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/security"
	"pses-auth/internal/store"
)

const (
	devUsername   = "devlearner"
	devPassword   = "password123"
	devExternalID = "dev-external-001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}
	ctx := context.Background()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	existing, err := st.Repo.GetMappingByUsername(ctx, devUsername)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devUsername)
		return
	}

	tokens, err := security.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.SessionTTL(), cfg.ResetTTL())
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	policy, err := policyengine.NewOPAEvaluator(ctx, "")
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	svc, err := service.NewAuthService(service.Deps{
		Repo:       st.Repo,
		Hasher:     security.NewHasher(cfg.BcryptCost),
		Tokens:     tokens,
		Policy:     policy,
		AppBaseURL: cfg.AppBaseURL,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	if _, err := svc.Signup(ctx, service.SignupInput{
		Username:    devUsername,
		Password:    devPassword,
		Preferences: domain.Preferences{PreferredLanguage: "English", SpokenLanguage: "English"},
	}); err != nil {
		log.Fatalf("signup: %v", err)
	}
	ident := &domain.ExternalIdentity{
		ExternalID:     devExternalID,
		Email:          "dev@example.com",
		SignInProvider: domain.ProviderPassword,
		EmailVerified:  true,
	}
	if _, err := svc.Finalize(ctx, ident, service.FinalizeInput{Username: devUsername}); err != nil {
		log.Fatalf("finalize: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUsername, devPassword)
}
