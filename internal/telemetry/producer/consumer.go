package producer

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"pses-auth/internal/telemetry/domain"
)

// Sink stores one consumed event. Returning an error leaves the offset uncommitted.
type Sink func(ctx context.Context, event *domain.AuthEvent) error

// messageReader is the subset of *kafka.Reader used by Consume.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader returns a consumer-group reader for the auth events topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

// Consume reads events until ctx is done and hands each to sink. Undecodable messages are
// committed and skipped. A failing sink is retried after a short pause without committing.
func Consume(ctx context.Context, r messageReader, sink Sink) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("worker: kafka fetch error: %v", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		ev, err := DecodeEvent(msg.Value)
		if err != nil {
			log.Printf("worker: skipping message at offset %d: %v", msg.Offset, err)
		} else {
			for {
				storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				err = sink(storeCtx, ev)
				cancel()
				if err == nil {
					break
				}
				log.Printf("worker: storing event %s failed: %v", ev.ID, err)
				if !sleepCtx(ctx, 2*time.Second) {
					return nil
				}
			}
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("worker: commit offset %d failed: %v", msg.Offset, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
