package unit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkbroker/linkbroker/internal/accessgate"
	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/provisioner"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
	"github.com/linkbroker/linkbroker/pkg/application"
	"github.com/linkbroker/linkbroker/pkg/device"
	"github.com/linkbroker/linkbroker/pkg/deviceroute"
	"github.com/linkbroker/linkbroker/pkg/dldatabuffer"
	"github.com/linkbroker/linkbroker/pkg/network"
	"github.com/linkbroker/linkbroker/pkg/networkroute"
)

const entityName = "unit"

// Service encapsulates Unit business logic: the routing table's tenancy
// boundary every Application, Network, and Device is scoped to, and the
// cascade delete that tears all of it down (spec.md §3 invariant 4).
type Service struct {
	store         storage.Store[Row]
	apps          storage.Store[application.Row]
	networks      storage.Store[network.Row]
	devices       storage.Store[device.Row]
	deviceRoutes  storage.Store[deviceroute.Row]
	networkRoutes storage.Store[networkroute.Row]
	dlBuffer      storage.Store[dldatabuffer.Row]
	provisioners  map[string]*provisioner.Provisioner
	sender        *controlbus.Sender
	logger        *slog.Logger
}

// NewService creates a Unit Service backed by the given stores.
func NewService(
	store storage.Store[Row],
	apps storage.Store[application.Row],
	networks storage.Store[network.Row],
	devices storage.Store[device.Row],
	deviceRoutes storage.Store[deviceroute.Row],
	networkRoutes storage.Store[networkroute.Row],
	dlBuffer storage.Store[dldatabuffer.Row],
	provisioners map[string]*provisioner.Provisioner,
	sender *controlbus.Sender,
	logger *slog.Logger,
) *Service {
	return &Service{
		store: store, apps: apps, networks: networks, devices: devices,
		deviceRoutes: deviceRoutes, networkRoutes: networkRoutes, dlBuffer: dlBuffer,
		provisioners: provisioners, sender: sender, logger: logger,
	}
}

// UnitCode resolves a unit id to its immutable code. Application, Network,
// Device, DeviceRoute, and NetworkRoute depend on this narrow method
// rather than importing this package directly, since this package imports
// theirs for the cascade delete below.
func (s *Service) UnitCode(ctx context.Context, id string) (string, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return row.Code, nil
}

// Create adds a unit, defaulting Owner to the caller unless req.OwnerID is
// already set by an admin/manager caller (spec.md §4.5).
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	ownerID := req.OwnerID
	if caller, ok := accessgate.FromContext(ctx); ok && caller.UserID != "" {
		if ownerID == "" || !(caller.HasRole("admin") || caller.HasRole("manager")) {
			ownerID = caller.UserID
		}
	}

	now := time.Now().UTC()
	row := Row{
		ID:        uuid.NewString(),
		Code:      req.Code,
		Name:      req.Name,
		OwnerID:   ownerID,
		Info:      req.Info,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		return Response{}, fmt.Errorf("creating unit: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID)

	return created.ToResponse(), nil
}

// Get returns a unit by id.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting unit: %w", err)
	}
	return row.ToResponse(), nil
}

// Update overwrites a unit's mutable fields. Code is immutable after
// create and is never touched here.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Response, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting unit: %w", err)
	}

	existing.Name = req.Name
	existing.OwnerID = req.OwnerID
	existing.Members = req.Members
	existing.Info = req.Info
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, id, existing)
	if err != nil {
		return Response{}, fmt.Errorf("updating unit: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "update").Inc()
	s.publish(ctx, controlbus.ActionUpdated, id)

	return updated.ToResponse(), nil
}

func (s *Service) provisionerFor(hostURI string) (*provisioner.Provisioner, bool) {
	prov, ok := s.provisioners[provisioner.DriverFor(hostURI)]
	return prov, ok
}

// Delete tears down a unit and everything scoped to it, in the order
// spec.md §8 scenario E2 exercises: deprovision every Application and
// Network's broker resource, then delete DeviceRoutes, NetworkRoutes,
// Devices, DlDataBuffer rows, Applications, and Networks, before finally
// removing the unit row itself.
func (s *Service) Delete(ctx context.Context, id string) error {
	appsPage, err := s.apps.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("unit_id", id)})
	if err != nil {
		return fmt.Errorf("listing applications for unit %s: %w", id, err)
	}
	netsPage, err := s.networks.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("unit_id", id)})
	if err != nil {
		return fmt.Errorf("listing networks for unit %s: %w", id, err)
	}

	u, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting unit %s: %w", id, err)
	}

	for _, app := range appsPage.Items {
		if prov, ok := s.provisionerFor(app.HostURI); ok {
			prov.DeprovisionAll(ctx, provisioner.KindApplication, u.Code, app.Code, u.Code)
		} else {
			s.logger.Warn("no provisioner configured, leaving broker resource in place", "application_id", app.ID, "host_uri", app.HostURI)
		}
	}
	for _, net := range netsPage.Items {
		vhost := u.Code
		if net.UnitID == "" {
			vhost = "public"
		}
		if prov, ok := s.provisionerFor(net.HostURI); ok {
			prov.DeprovisionAll(ctx, provisioner.KindNetwork, u.Code, net.Code, vhost)
		} else {
			s.logger.Warn("no provisioner configured, leaving broker resource in place", "network_id", net.ID, "host_uri", net.HostURI)
		}
	}

	unitCond := storage.NewConditions().Eq("unit_id", id)
	if _, err := s.deviceRoutes.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting device routes for unit %s: %w", id, err)
	}
	if _, err := s.networkRoutes.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting network routes for unit %s: %w", id, err)
	}
	if _, err := s.devices.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting devices for unit %s: %w", id, err)
	}
	if _, err := s.dlBuffer.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting dl data buffer entries for unit %s: %w", id, err)
	}
	if _, err := s.apps.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting applications for unit %s: %w", id, err)
	}
	if _, err := s.networks.DelWhere(ctx, unitCond); err != nil {
		return fmt.Errorf("deleting networks for unit %s: %w", id, err)
	}

	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id)

	return nil
}

// List returns a page of units per opts.
func (s *Service) List(ctx context.Context, opts storage.ListOptions) (storage.Page[Row], error) {
	return s.store.List(ctx, opts)
}

func (s *Service) publish(ctx context.Context, action controlbus.Action, id string) {
	if s.sender == nil {
		return
	}
	msg := controlbus.Message{Entity: entityName, Action: action, ID: id, At: time.Now().UTC()}
	if err := s.sender.Publish(ctx, entityName, msg); err != nil {
		s.logger.Warn("publishing control-bus message failed", "entity", entityName, "id", id, "error", err)
	}
}
