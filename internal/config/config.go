// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pses-auth/internal/mailer"
)

const (
	// DevJWTSecret signs session tokens outside production when JWT_SECRET is unset.
	DevJWTSecret = "dev-jwt-secret-change-me"

	StoreBackendPostgres = "postgres"
	StoreBackendMongo    = "mongo"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :5000). A bare PORT is honoured when unset.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	Port     string `mapstructure:"PORT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// CORSOrigin is the comma-separated list of browser origins allowed to call the API.
	CORSOrigin string `mapstructure:"CORS_ORIGIN"`
	// AppBaseURL is where password reset links point. Defaults to the first CORS origin.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	// JWTSecret signs HS256 session and reset tokens. Required in production.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim on session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTExpiresIn is the session lifetime; Go durations plus a "d" suffix (e.g. "7d").
	JWTExpiresIn string `mapstructure:"JWT_EXPIRES_IN"`
	// ResetTokenTTL is the password reset token lifetime (e.g. "30m").
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 10.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// StoreBackend selects the account store: "postgres" or "mongo".
	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoURI      string `mapstructure:"MONGODB_URI"`
	MongoDatabase string `mapstructure:"MONGODB_DATABASE"`
	// MigrateOnStart applies pending Postgres migrations before the server starts.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`

	// Redis backs rate limiting. Empty RedisAddr disables limiting.
	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisPassword      string `mapstructure:"REDIS_PASSWORD"`
	RedisDB            int    `mapstructure:"REDIS_DB"`
	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// OIDCIssuerURL and OIDCClientID configure identity token verification.
	OIDCIssuerURL string `mapstructure:"OIDC_ISSUER_URL"`
	OIDCClientID  string `mapstructure:"OIDC_CLIENT_ID"`
	// IdentityInsecureDecode reads identity tokens without verifying signatures. Refused in production.
	IdentityInsecureDecode bool `mapstructure:"IDENTITY_INSECURE_DECODE"`

	// SMTP settings. Mail is enabled only when every field is set.
	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	// HintResetPolicyFile is an optional Rego file replacing the built-in hint reset policy.
	HintResetPolicyFile string `mapstructure:"HINT_RESET_POLICY_FILE"`

	// Telemetry (optional). An empty endpoint disables OTLP export.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of brokers. When set, auth events go to Kafka.
	KafkaBrokers         string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsKafkaTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", "")
	v.SetDefault("PORT", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("APP_BASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "pses-auth")
	v.SetDefault("JWT_EXPIRES_IN", "7d")
	v.SetDefault("RESET_TOKEN_TTL", "30m")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MONGODB_URI", "")
	v.SetDefault("MONGODB_DATABASE", "pses")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("OIDC_ISSUER_URL", "")
	v.SetDefault("OIDC_CLIENT_ID", "")
	v.SetDefault("IDENTITY_INSECURE_DECODE", false)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("HINT_RESET_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "pses-auth")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "pses-auth-events")
	v.SetDefault("KAFKA_GROUP_ID", "pses-auth-audit-worker")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":5000"
		if p := strings.TrimSpace(cfg.Port); p != "" {
			cfg.HTTPAddr = ":" + p
		}
	}
	if cfg.AppBaseURL == "" {
		if origins := cfg.CORSOrigins(); len(origins) > 0 {
			cfg.AppBaseURL = origins[0]
		}
	}

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("config: JWT_SECRET must be set when APP_ENV=production")
		}
		cfg.JWTSecret = DevJWTSecret
	}
	if _, err := parseDuration(cfg.JWTExpiresIn); err != nil {
		return nil, fmt.Errorf("config: JWT_EXPIRES_IN must be a duration like 7d or 12h: %w", err)
	}
	if _, err := parseDuration(cfg.ResetTokenTTL); err != nil {
		return nil, fmt.Errorf("config: RESET_TOKEN_TTL must be a duration like 30m: %w", err)
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 10
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	case StoreBackendMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("config: MONGODB_URI must be set when STORE_BACKEND=mongo")
		}
	default:
		return nil, errors.New("config: STORE_BACKEND must be postgres or mongo")
	}

	if cfg.IdentityInsecureDecode && cfg.IsProduction() {
		return nil, errors.New("config: IDENTITY_INSECURE_DECODE must not be true when APP_ENV=production")
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, errors.New("config: RATE_LIMIT_PER_MINUTE must not be negative")
	}

	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return nil, errors.New("config: LOG_FORMAT must be json or text")
	}

	return &cfg, nil
}

// ValidateServer checks what only the HTTP server needs: an identity verifier and, in
// production, a working mailer.
func (c *Config) ValidateServer() error {
	if c.OIDCIssuerURL == "" && !c.IdentityInsecureDecode {
		return errors.New("config: OIDC_ISSUER_URL must be set (or IDENTITY_INSECURE_DECODE=true outside production)")
	}
	if c.OIDCIssuerURL != "" && c.OIDCClientID == "" {
		return errors.New("config: OIDC_CLIENT_ID must be set with OIDC_ISSUER_URL")
	}
	if c.IsProduction() && !c.SMTP().Complete() {
		return errors.New("config: SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS and SMTP_FROM must be set when APP_ENV=production")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// SessionTTL parses JWTExpiresIn. Returns 7 days if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := parseDuration(c.JWTExpiresIn)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// ResetTTL parses ResetTokenTTL. Returns 30m if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	d, err := parseDuration(c.ResetTokenTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// SMTP returns the mail relay settings.
func (c *Config) SMTP() mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPass,
		From:     c.SMTPFrom,
	}
}

// CORSOrigins returns the allowed origins from the comma-separated config.
func (c *Config) CORSOrigins() []string {
	return splitList(c.CORSOrigin)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means events are not sent to Kafka.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q must be debug, info, warn or error", s)
}

// parseDuration accepts time.ParseDuration syntax plus a whole-day "d" suffix.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
