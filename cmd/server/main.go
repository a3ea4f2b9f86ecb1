// server runs the auth HTTP API. Configuration comes from the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pses-auth/internal/config"
	"pses-auth/internal/health"
	"pses-auth/internal/identity/handler"
	"pses-auth/internal/identity/service"
	"pses-auth/internal/metrics"
	"pses-auth/internal/ratelimit"
	"pses-auth/internal/security"
	"pses-auth/internal/server"
	"pses-auth/internal/server/middleware"
	"pses-auth/internal/store"
	"pses-auth/internal/telemetry"
	telemetryotel "pses-auth/internal/telemetry/otel"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	policy, err := loadPolicy(ctx, cfg.HintResetPolicyFile)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		log.Fatalf("identity verifier: %v", err)
	}
	sender, err := newMailer(cfg)
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}

	m := metrics.New()
	events, closeEvents, err := newEmitter(cfg, st, providers, m)
	if err != nil {
		log.Fatalf("events: %v", err)
	}

	tokens, err := security.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.SessionTTL(), cfg.ResetTTL())
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	svc, err := service.NewAuthService(service.Deps{
		Repo:       st.Repo,
		Hasher:     security.NewHasher(cfg.BcryptCost),
		Tokens:     tokens,
		Policy:     policy,
		Mailer:     sender,
		Events:     events,
		ClientIP:   middleware.ClientIP,
		AppBaseURL: cfg.AppBaseURL,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	redisClient, err := ratelimit.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("rate limiting disabled", "error", err)
	}
	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimitPerMinute, ratelimit.DefaultWindow)

	router := server.NewRouter(server.Deps{
		Auth: handler.NewAuthHandler(svc, handler.Options{
			Verifier:  verifier,
			Tokens:    tokens,
			RateLimit: server.RateLimit(limiter),
		}),
		Health:      health.NewHandler(st.Repo, policy),
		Metrics:     m,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins(),
		ServiceName: cfg.OTelServiceName,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreBackend,
			"mail", svc.MailEnabled(),
			"rate_limit", limiter != nil,
			"otel", providers.Exporting,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := svc.WaitForMail(shutdownCtx); err != nil {
		logger.Warn("pending reset mail abandoned", "error", err)
	}
	// In-flight async emits finish within ShutdownDrainDuration.
	time.Sleep(telemetry.ShutdownDrainDuration)
	closeEvents()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", "error", err)
	}
	st.Close()
	logger.Info("HTTP server stopped")
}
