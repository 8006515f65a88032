// Package amqp implements the Resource Provisioner's AMQP driver: talks to
// a RabbitMQ-compatible broker's HTTP management API to create and tear
// down per-tenant vhosts, users, permissions, and queue policies.
package amqp

import (
	"context"
	"fmt"

	"github.com/linkbroker/linkbroker/internal/provisioner"
)

// Driver implements provisioner.Driver against a RabbitMQ management API.
type Driver struct {
	client *provisioner.ManagementClient
}

// New builds an AMQP provisioner driver.
func New(client *provisioner.ManagementClient) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Name() string { return "amqp" }

type userRequest struct {
	Password string `json:"password"`
	Tags     string `json:"tags"`
}

type permissionRequest struct {
	Configure string `json:"configure"`
	Write     string `json:"write"`
	Read      string `json:"read"`
}

type policyRequest struct {
	Pattern    string         `json:"pattern"`
	Definition map[string]any `json:"definition"`
	ApplyTo    string         `json:"apply-to"`
}

// CreateQueueResource upserts the per-tenant vhost, the role-scoped user,
// and a permission grant sized by spec.md §4.4's queue-role matrix, plus an
// optional TTL/max-length policy.
func (d *Driver) CreateQueueResource(ctx context.Context, spec provisioner.ResourceSpec) (provisioner.Handle, error) {
	vhost := vhostPath(spec.VHost)
	username := provisioner.Username(spec.Role, spec.UnitCode, spec.Code)

	if err := d.client.Do(ctx, "PUT", "/api/vhosts/"+vhost, struct{}{}, nil); err != nil {
		return provisioner.Handle{}, fmt.Errorf("declaring vhost: %w", err)
	}

	if err := d.client.Do(ctx, "PUT", "/api/users/"+username,
		userRequest{Password: spec.Credentials.Password, Tags: ""}, nil); err != nil {
		return provisioner.Handle{}, fmt.Errorf("creating user: %w", err)
	}

	pattern := "^" + spec.Code + "$"
	perm := permissionRequest{Configure: pattern}
	switch provisioner.PermissionFor(spec.Role, spec.Kind) {
	case provisioner.PermPublish:
		perm.Write = pattern
	case provisioner.PermSubscribe:
		perm.Read = pattern
	}
	if err := d.client.Do(ctx, "PUT", "/api/permissions/"+vhost+"/"+username, perm, nil); err != nil {
		return provisioner.Handle{}, fmt.Errorf("granting permissions: %w", err)
	}

	if spec.Policies.MessageTTL > 0 || spec.Policies.MaxLength > 0 {
		def := map[string]any{}
		if spec.Policies.MessageTTL > 0 {
			def["message-ttl"] = spec.Policies.MessageTTL.Milliseconds()
		}
		if spec.Policies.MaxLength > 0 {
			def["max-length"] = spec.Policies.MaxLength
		}
		if err := d.client.Do(ctx, "PUT", "/api/policies/"+vhost+"/"+username,
			policyRequest{Pattern: pattern, Definition: def, ApplyTo: "queues"}, nil); err != nil {
			return provisioner.Handle{}, fmt.Errorf("setting policy: %w", err)
		}
	}

	return provisioner.Handle{Driver: "amqp", VHost: spec.VHost, Username: username, QueueName: spec.Code}, nil
}

// ClearQueueResource deletes the role-scoped user. The vhost itself is left
// in place: other roles provisioned under it keep working.
func (d *Driver) ClearQueueResource(ctx context.Context, handle provisioner.Handle) error {
	if err := d.client.Do(ctx, "DELETE", "/api/users/"+handle.Username, nil, nil); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

func vhostPath(vhost string) string {
	if vhost == "" {
		return "%2f"
	}
	return vhost
}
