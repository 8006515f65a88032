package controlbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/linkbroker/linkbroker/internal/telemetry"
)

// Sender publishes a Message after every successful routing mutation.
// Publish is guarded by a mutex: one *amqp.Channel is not safe for
// concurrent use by multiple publishing goroutines (spec.md §5's
// single-mutex-protected-channel note).
type Sender struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

// NewSender wraps the Bus's shared publish channel.
func (b *Bus) NewSender() *Sender {
	return &Sender{channel: b.send}
}

// Publish emits msg to entity's fanout exchange. A publish failure is
// logged and counted but never fails the caller's mutation — the Control
// Bus is a coherence optimization, not a durability guarantee, so a down
// broker degrades cache freshness rather than routing-table writes.
func (s *Sender) Publish(ctx context.Context, entity string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling control bus message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = s.channel.PublishWithContext(publishCtx, entityExchange(entity), "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   msg.At,
	})
	if err != nil {
		telemetry.ControlBusPublishFailuresTotal.WithLabelValues(entity).Inc()
		return fmt.Errorf("publishing to %s: %w", entity, err)
	}
	return nil
}
