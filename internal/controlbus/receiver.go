package controlbus

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/linkbroker/linkbroker/internal/telemetry"
)

// Receiver consumes fanout messages for one entity channel on an exclusive,
// auto-delete queue scoped to this Broker instance.
type Receiver struct {
	entity  string
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// Handler processes a successfully decoded Message.
type Handler func(ctx context.Context, msg Message)

// Run consumes until ctx is cancelled. A message that fails to parse is
// acknowledged and dropped rather than requeued or nacked — a poison
// message must never block the queue — and is counted so operators can
// see it happened (grounded on internal/audit.Writer's drop-and-log
// backpressure handling, applied here to drop-and-log unparseable
// payloads).
func (r *Receiver) Run(ctx context.Context, handle Handler) error {
	deliveries, err := r.channel.ConsumeWithContext(ctx, r.queue, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				telemetry.ControlBusPoisonMessagesTotal.WithLabelValues(r.entity).Inc()
				r.logger.Warn("control bus: dropping unparseable message", "entity", r.entity, "error", err)
				_ = d.Ack(false)
				continue
			}
			_ = d.Ack(false)
			handle(ctx, msg)
		}
	}
}

// Close releases the receiver's channel (the queue itself is auto-delete).
func (r *Receiver) Close() error {
	return r.channel.Close()
}
