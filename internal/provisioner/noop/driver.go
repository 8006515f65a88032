// Package noop implements the Resource Provisioner's no-op driver for
// brokers (such as an embedded rumqttd instance) that have no broker-side
// resource to provision up front.
package noop

import (
	"context"
	"log/slog"

	"github.com/linkbroker/linkbroker/internal/provisioner"
)

// Driver satisfies provisioner.Driver without contacting any broker.
type Driver struct {
	logger *slog.Logger
}

// New builds a no-op driver.
func New(logger *slog.Logger) *Driver {
	return &Driver{logger: logger}
}

func (d *Driver) Name() string { return "rumqttd" }

func (d *Driver) CreateQueueResource(ctx context.Context, spec provisioner.ResourceSpec) (provisioner.Handle, error) {
	username := provisioner.Username(spec.Role, spec.UnitCode, spec.Code)
	d.logger.Debug("rumqttd driver: no broker-side resource to create", "username", username)
	return provisioner.Handle{Driver: "rumqttd", VHost: spec.VHost, Username: username, QueueName: spec.Code}, nil
}

func (d *Driver) ClearQueueResource(ctx context.Context, handle provisioner.Handle) error {
	d.logger.Debug("rumqttd driver: no broker-side resource to clear", "username", handle.Username)
	return nil
}
