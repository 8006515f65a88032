// Package provisioner implements the Resource Provisioner: creating and
// tearing down per-tenant broker resources (vhosts/ACLs, users,
// permissions, TTL/length policies) on AMQP or MQTT brokers, with
// compensating cleanup on a partial failure (spec.md §4.4).
package provisioner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/linkbroker/linkbroker/internal/telemetry"
)

// QueueRole is one of the five roles spec.md §4.4's permission matrix
// assigns distinct Application/Network access to.
type QueueRole string

const (
	RoleULData       QueueRole = "uldata"
	RoleDLData       QueueRole = "dldata"
	RoleDLDataResp   QueueRole = "dldata-resp"
	RoleDLDataResult QueueRole = "dldata-result"
	RoleCtrl         QueueRole = "ctrl"
)

// Kind distinguishes which side of the matrix a resource is provisioned for.
type Kind string

const (
	KindApplication Kind = "application"
	KindNetwork     Kind = "network"
)

// Permission is a role's access grant to one side of the matrix.
type Permission string

const (
	PermNone      Permission = ""
	PermPublish   Permission = "publish"
	PermSubscribe Permission = "subscribe"
)

type rolePerms struct {
	app Permission
	net Permission
}

// roleMatrix is spec.md §4.4's queue-role table.
var roleMatrix = map[QueueRole]rolePerms{
	RoleULData:       {app: PermSubscribe, net: PermPublish},
	RoleDLData:       {app: PermPublish, net: PermSubscribe},
	RoleDLDataResp:   {app: PermSubscribe, net: PermNone},
	RoleDLDataResult: {app: PermSubscribe, net: PermPublish},
	RoleCtrl:         {app: PermNone, net: PermSubscribe},
}

// PermissionFor returns the permission role grants kind, or PermNone if
// that role does not apply to kind at all.
func PermissionFor(role QueueRole, kind Kind) Permission {
	p := roleMatrix[role]
	if kind == KindNetwork {
		return p.net
	}
	return p.app
}

// RolesFor enumerates the queue roles provisioned when an Application or
// Network is created: every role whose matrix entry grants that Kind a
// non-empty permission.
func RolesFor(kind Kind) []QueueRole {
	var roles []QueueRole
	for _, role := range []QueueRole{RoleULData, RoleDLData, RoleDLDataResp, RoleDLDataResult, RoleCtrl} {
		if PermissionFor(role, kind) != PermNone {
			roles = append(roles, role)
		}
	}
	return roles
}

// Username derives the "<queue-role>.<unit_code>.<app_or_net_code>"
// identity spec.md §4.4 specifies, dropping the unit segment when
// unitCode is empty (public networks).
func Username(role QueueRole, unitCode, code string) string {
	parts := []string{string(role)}
	if unitCode != "" {
		parts = append(parts, unitCode)
	}
	parts = append(parts, code)
	return strings.Join(parts, ".")
}

// Policies are the optional TTL/max-length queue policies spec.md §4.4
// allows a driver to apply alongside permissions.
type Policies struct {
	MessageTTL time.Duration
	MaxLength  int
}

// ResourceSpec describes one queue-role resource to provision for an
// Application or Network.
type ResourceSpec struct {
	Role        QueueRole
	Kind        Kind
	UnitCode    string // empty for a public network
	Code        string // the application or network code
	VHost       string
	HostURI     string
	Credentials Credentials
	Policies    Policies
}

// Credentials are the broker-side identity granted to a provisioned resource.
type Credentials struct {
	Username string
	Password string
}

// GeneratePassword returns a random 32-byte hex-encoded broker-account
// password, the same shape as oauth2.GenerateDevSecret.
func GeneratePassword() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Handle identifies a provisioned resource for later deprovisioning. Since
// Username is derived deterministically from (role, unit code, code), a
// caller that only has those three values can always rebuild the Handle a
// later Deprovision needs, even without having persisted it (spec.md §4.5's
// "username is derived deterministically so it is stable across patches").
type Handle struct {
	Driver    string
	VHost     string
	Username  string
	QueueName string
}

// Driver is the interface every broker-management backend implements: the
// AMQP and MQTT HTTP-management-API drivers, and a no-op driver for brokers
// (like rumqttd) with nothing to provision up front. Grounded on
// messaging.Provider's one-interface-many-backends shape.
type Driver interface {
	Name() string
	CreateQueueResource(ctx context.Context, spec ResourceSpec) (Handle, error)
	ClearQueueResource(ctx context.Context, handle Handle) error
}

// Notifier posts an operational notice when a compensating action runs.
// Optional: a nil Notifier silently skips notification.
type Notifier interface {
	NotifyCompensation(ctx context.Context, driver string, handle Handle, cause error)
}

// Provisioner sequences a Driver call with compensation, grounded on the
// teacher's tenant.Provisioner.Provision/Deprovision best-effort-cleanup
// pattern.
type Provisioner struct {
	driver   Driver
	notifier Notifier
	logger   *slog.Logger
}

// New builds a Provisioner around one Driver.
func New(driver Driver, notifier Notifier, logger *slog.Logger) *Provisioner {
	return &Provisioner{driver: driver, notifier: notifier, logger: logger}
}

// Provision creates the broker resource described by spec. On success it
// returns a Handle the caller must retain to later Deprovision. If the
// driver call fails, Provision runs clear_queue_rsc for the same role
// before returning the error, so a driver that stopped partway (for example
// after creating the user but before granting its permission) leaves no
// resource behind. Compensation for the *caller's* surrounding transaction
// (e.g. a routing-table row insert that fails after the broker resource was
// created) is the caller's, via Deprovision.
func (p *Provisioner) Provision(ctx context.Context, spec ResourceSpec) (Handle, error) {
	timer := telemetry.ProvisionerCallDuration.WithLabelValues(p.driver.Name(), "create")
	start := time.Now()
	handle, err := p.driver.CreateQueueResource(ctx, spec)
	timer.Observe(time.Since(start).Seconds())
	if err != nil {
		partial := Handle{Driver: p.driver.Name(), VHost: spec.VHost, Username: Username(spec.Role, spec.UnitCode, spec.Code), QueueName: spec.Code}
		if clearErr := p.Deprovision(ctx, partial, err); clearErr != nil {
			p.logger.Warn("clearing partially provisioned broker resource failed", "driver", p.driver.Name(), "username", partial.Username, "error", clearErr)
		}
		return Handle{}, fmt.Errorf("provisioning %s resource %s for %s %s: %w", p.driver.Name(), spec.Role, spec.Kind, spec.Code, err)
	}
	p.logger.Info("provisioned broker resource", "driver", p.driver.Name(), "role", spec.Role, "username", handle.Username)
	return handle, nil
}

// ProvisionAll provisions every role RolesFor(kind) names for one
// Application/Network. On any failure it deprovisions the roles already
// created, in reverse order, before returning the error — so a caller never
// has to reason about a partially-provisioned resource.
func (p *Provisioner) ProvisionAll(ctx context.Context, kind Kind, unitCode, code, vhost, hostURI string, policies Policies, credentialsFor func(QueueRole) Credentials) ([]Handle, error) {
	var handles []Handle
	for _, role := range RolesFor(kind) {
		spec := ResourceSpec{
			Role:        role,
			Kind:        kind,
			UnitCode:    unitCode,
			Code:        code,
			VHost:       vhost,
			HostURI:     hostURI,
			Credentials: credentialsFor(role),
			Policies:    policies,
		}
		handle, err := p.Provision(ctx, spec)
		if err != nil {
			for i := len(handles) - 1; i >= 0; i-- {
				_ = p.Deprovision(ctx, handles[i], err)
			}
			return nil, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// DeprovisionAll runs Deprovision for every role RolesFor(kind) names,
// rebuilding each Handle from the deterministic username convention. Used
// by Application/Network delete and by the Unit cascade-delete, neither of
// which needs to have persisted the original handles.
func (p *Provisioner) DeprovisionAll(ctx context.Context, kind Kind, unitCode, code, vhost string) {
	for _, role := range RolesFor(kind) {
		handle := Handle{VHost: vhost, Username: Username(role, unitCode, code), QueueName: code}
		if err := p.Deprovision(ctx, handle, nil); err != nil {
			p.logger.Warn("deprovisioning broker resource failed", "driver", p.driver.Name(), "username", handle.Username, "error", err)
		}
	}
}

// Deprovision runs clear_queue_rsc for handle. cause, when non-nil, is the
// error that triggered this rollback: only then is the action counted as a
// compensation and forwarded to the optional Notifier so an operator
// learns broker state was rolled back. A nil cause (a plain delete) is
// only logged.
func (p *Provisioner) Deprovision(ctx context.Context, handle Handle, cause error) error {
	timer := telemetry.ProvisionerCallDuration.WithLabelValues(p.driver.Name(), "clear")
	start := time.Now()
	err := p.driver.ClearQueueResource(ctx, handle)
	timer.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("clearing %s resource %s: %w", p.driver.Name(), handle.Username, err)
	}
	if cause == nil {
		p.logger.Info("cleared broker resource", "driver", p.driver.Name(), "username", handle.Username)
		return nil
	}

	telemetry.ProvisionerCompensationsTotal.WithLabelValues(p.driver.Name()).Inc()
	p.logger.Warn("compensating: cleared broker resource", "driver", p.driver.Name(), "username", handle.Username, "cause", cause)
	if p.notifier != nil {
		p.notifier.NotifyCompensation(ctx, p.driver.Name(), handle, cause)
	}
	return nil
}
