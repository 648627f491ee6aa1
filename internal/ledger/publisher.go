// Package ledger publishes finalized coordination outcomes to JetStream for
// the downstream ledger-writer. The hand-off is asynchronous and best-effort:
// room semantics never depend on it, and a nil *Publisher disables it.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subjects consumed by the ledger-writer.
const (
	SubjectBulkOrderFinalized = "ledger.bulkorder.finalized"
	SubjectMarketClosed       = "ledger.market.closed"
)

// Publisher writes finalized events to the COORDINATION_EVENTS stream.
type Publisher struct {
	js jetstream.JetStream
}

// New creates the publisher and ensures the stream exists.
func New(nc *nats.Conn) (*Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        "COORDINATION_EVENTS",
		Description: "Finalized bulk orders and closed markets for the ledger-writer",
		Subjects:    []string{"ledger.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &Publisher{js: js}, nil
}

// Publish writes one event. A nil receiver is a configured-off no-op.
func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
