// Package mqtt implements the Resource Provisioner's MQTT driver: talks to
// an MQTT broker's admin REST dialect (ACL rules, client accounts, topic
// metrics toggling) to provision per-Application/Network topic access.
package mqtt

import (
	"context"
	"fmt"

	"github.com/linkbroker/linkbroker/internal/provisioner"
)

// Driver implements provisioner.Driver against an MQTT broker's HTTP admin API.
type Driver struct {
	client *provisioner.ManagementClient
}

// New builds an MQTT provisioner driver.
func New(client *provisioner.ManagementClient) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Name() string { return "mqtt" }

type aclRequest struct {
	Username string `json:"username"`
	Topic    string `json:"topic"`
	Access   string `json:"access"` // "pub", "sub"
}

type clientRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Superuser bool   `json:"superuser"`
}

// CreateQueueResource creates a role-scoped client account and, when the
// role grants an access direction under spec.md §4.4's matrix, an ACL rule
// and topic-metrics toggle restricted to that code's topic.
func (d *Driver) CreateQueueResource(ctx context.Context, spec provisioner.ResourceSpec) (provisioner.Handle, error) {
	username := provisioner.Username(spec.Role, spec.UnitCode, spec.Code)

	if err := d.client.Do(ctx, "POST", "/api/v4/clients", clientRequest{
		Username: username,
		Password: spec.Credentials.Password,
	}, nil); err != nil {
		return provisioner.Handle{}, fmt.Errorf("creating mqtt client: %w", err)
	}

	access := ""
	switch provisioner.PermissionFor(spec.Role, spec.Kind) {
	case provisioner.PermPublish:
		access = "pub"
	case provisioner.PermSubscribe:
		access = "sub"
	}
	if access == "" {
		return provisioner.Handle{Driver: "mqtt", VHost: spec.VHost, Username: username, QueueName: spec.Code}, nil
	}

	if err := d.client.Do(ctx, "POST", "/api/v4/acl", aclRequest{
		Username: username,
		Topic:    spec.Code,
		Access:   access,
	}, nil); err != nil {
		return provisioner.Handle{}, fmt.Errorf("granting mqtt acl: %w", err)
	}

	if err := d.client.Do(ctx, "POST", "/api/v4/mqtt/topic_metrics", map[string]string{"topic": spec.Code}, nil); err != nil {
		// Best-effort: some brokers reject wildcard/empty topics with a
		// "bad-topic" error here. Metrics toggling never gates provisioning.
	}

	return provisioner.Handle{Driver: "mqtt", VHost: spec.VHost, Username: username, QueueName: spec.Code}, nil
}

// ClearQueueResource removes the ACL rule and the role-scoped client.
func (d *Driver) ClearQueueResource(ctx context.Context, handle provisioner.Handle) error {
	if err := d.client.Do(ctx, "DELETE", "/api/v4/acl?topic="+handle.QueueName, nil, nil); err != nil {
		return fmt.Errorf("removing mqtt acl: %w", err)
	}
	if err := d.client.Do(ctx, "DELETE", "/api/v4/clients/"+handle.Username, nil, nil); err != nil {
		return fmt.Errorf("deleting mqtt client: %w", err)
	}
	return nil
}
