// Worker consumes auth events from Kafka and writes them to the audit_logs table.
// Set KAFKA_BROKERS, AUTH_EVENTS_KAFKA_TOPIC, KAFKA_GROUP_ID and DATABASE_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pses-auth/internal/audit"
	auditrepo "pses-auth/internal/audit/repository"
	"pses-auth/internal/config"
	"pses-auth/internal/db"
	"pses-auth/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required; audit logs are stored in Postgres")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: db: %v", err)
	}
	defer conn.Close()

	reader := producer.NewKafkaReader(brokers, cfg.AuthEventsKafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	sink := audit.NewLogger(auditrepo.NewPostgresRepository(conn))
	log.Printf("worker: consuming from %s (group %s) into audit_logs", cfg.AuthEventsKafkaTopic, cfg.KafkaGroupID)

	if err := producer.Consume(ctx, reader, sink.Emit); err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker: stopped")
}
