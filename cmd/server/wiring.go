package main

import (
	"context"
	"log/slog"
	"os"

	"pses-auth/internal/audit"
	auditrepo "pses-auth/internal/audit/repository"
	"pses-auth/internal/config"
	"pses-auth/internal/externalid"
	"pses-auth/internal/mailer"
	"pses-auth/internal/metrics"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/store"
	"pses-auth/internal/telemetry"
	telemetryotel "pses-auth/internal/telemetry/otel"
	"pses-auth/internal/telemetry/producer"
)

func loadPolicy(ctx context.Context, path string) (*policyengine.OPAEvaluator, error) {
	src := ""
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		src = string(b)
	}
	return policyengine.NewOPAEvaluator(ctx, src)
}

func newVerifier(ctx context.Context, cfg *config.Config) (externalid.Verifier, error) {
	if cfg.OIDCIssuerURL != "" {
		return externalid.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	}
	slog.Warn("identity tokens are decoded without signature checks; development only", "env", "IDENTITY_INSECURE_DECODE")
	return externalid.InsecureDecoder{}, nil
}

// newMailer returns nil when SMTP is not fully configured; reset links are then returned as devLink.
func newMailer(cfg *config.Config) (mailer.Sender, error) {
	smtp := cfg.SMTP()
	if !smtp.Complete() {
		slog.Info("SMTP not configured; password reset links are returned to the client")
		return nil, nil
	}
	return mailer.NewSMTPSender(smtp)
}

// newEmitter fans auth events out to metrics, OTel logs, and either Kafka, the audit table, or the log.
func newEmitter(cfg *config.Config, st *store.Store, providers *telemetryotel.Providers, m *metrics.Metrics) (telemetry.EventEmitter, func(), error) {
	fan := telemetry.Fanout{m}
	if providers.Exporting {
		fan = append(fan, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	closeFn := func() {}

	switch brokers := cfg.KafkaBrokersList(); {
	case len(brokers) > 0:
		p, err := producer.NewKafkaProducer(brokers, cfg.AuthEventsKafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		fan = append(fan, p)
		closeFn = func() {
			if err := p.Close(); err != nil {
				slog.Warn("kafka producer close failed", "error", err)
			}
		}
	case st.SQL != nil:
		fan = append(fan, audit.NewLogger(auditrepo.NewPostgresRepository(st.SQL)))
	default:
		fan = append(fan, telemetry.LogEmitter{})
	}
	return fan, closeFn, nil
}
