package controlbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/linkbroker/linkbroker/internal/platform"
)

// entityExchange returns the fanout exchange name for an entity channel.
func entityExchange(entity string) string {
	return "linkbroker.routing." + entity
}

// Bus owns the AMQP connection shared by the Sender and every Receiver
// registered against it.
type Bus struct {
	conn   *amqp.Connection
	logger *slog.Logger

	mu   sync.Mutex
	send *amqp.Channel
}

// Connect dials the control bus with bounded retry and declares the fanout
// exchange for every known entity channel.
func Connect(ctx context.Context, url string, connectTimeout time.Duration, maxAttempts int, logger *slog.Logger, entities []string) (*Bus, error) {
	conn, err := platform.DialAMQP(ctx, url, connectTimeout, maxAttempts)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}

	for _, entity := range entities {
		if err := ch.ExchangeDeclare(entityExchange(entity), amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("declaring exchange for %s: %w", entity, err)
		}
	}

	return &Bus{conn: conn, logger: logger, send: ch}, nil
}

// Close tears down the connection and all channels derived from it.
func (b *Bus) Close() error {
	return b.conn.Close()
}

// NewReceiver binds a new exclusive, auto-delete queue to entity's fanout
// exchange — one such queue per running Broker instance, per spec.md §4.3.
func (b *Bus) NewReceiver(entity string) (*Receiver, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening consume channel for %s: %w", entity, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declaring queue for %s: %w", entity, err)
	}

	if err := ch.QueueBind(q.Name, "", entityExchange(entity), false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("binding queue for %s: %w", entity, err)
	}

	return &Receiver{entity: entity, channel: ch, queue: q.Name, logger: b.logger}, nil
}
