package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DialAMQP connects to the broker with bounded exponential retry, giving up
// after maxAttempts. Used by the Control Bus; the Resource Provisioner's
// drivers talk to brokers over their HTTP management APIs instead.
func DialAMQP(ctx context.Context, url string, connectTimeout time.Duration, maxAttempts int) (*amqp.Connection, error) {
	operation := func() (*amqp.Connection, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(connectTimeout)})
		if err != nil {
			return nil, fmt.Errorf("dialing control bus: %w", err)
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to control bus after %d attempts: %w", maxAttempts, err)
	}
	return conn, nil
}
