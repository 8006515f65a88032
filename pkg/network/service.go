package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/provisioner"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
)

const entityName = "network"

// unitCodeLookup resolves a unit id to its immutable code. Declared
// locally rather than depending on pkg/unit directly, since pkg/unit's own
// cascade delete needs to depend on this package the other way around.
type unitCodeLookup interface {
	UnitCode(ctx context.Context, unitID string) (string, error)
}

// Service encapsulates Network business logic: validating the broker host
// URI, provisioning the per-network broker resource across every queue
// role RolesFor(network) names, and persisting the routing-table row
// (spec.md §4.5). Provisioning belongs here, not in NetworkRoute/DeviceRoute.
type Service struct {
	store        storage.Store[Row]
	units        unitCodeLookup
	provisioners map[string]*provisioner.Provisioner
	sender       *controlbus.Sender
	logger       *slog.Logger
}

// NewService creates a Network Service backed by the given store.
func NewService(store storage.Store[Row], units unitCodeLookup, provisioners map[string]*provisioner.Provisioner, sender *controlbus.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, units: units, provisioners: provisioners, sender: sender, logger: logger}
}

// unitCodeOf resolves a unit id to its immutable code, returning "" for a
// public network (empty unitID).
func (s *Service) unitCodeOf(ctx context.Context, unitID string) (string, error) {
	if unitID == "" {
		return "", nil
	}
	code, err := s.units.UnitCode(ctx, unitID)
	if err != nil {
		return "", fmt.Errorf("getting unit %s: %w", unitID, err)
	}
	return code, nil
}

// vhostFor is the Resource Provisioner vhost a network's resources live
// under: the owning unit's code, or "public" for a unit-less network.
func vhostFor(unitCode string) string {
	if unitCode == "" {
		return "public"
	}
	return unitCode
}

func (s *Service) provisionerFor(hostURI string) (*provisioner.Provisioner, error) {
	prov, ok := s.provisioners[provisioner.DriverFor(hostURI)]
	if !ok {
		return nil, fmt.Errorf("%w: no provisioner configured for host_uri %q", storage.ErrInvalidArgument, hostURI)
	}
	return prov, nil
}

func issueCredentials(provisioner.QueueRole) provisioner.Credentials {
	return provisioner.Credentials{Password: provisioner.GeneratePassword()}
}

// Create validates the host URI, provisions every queue role a network
// needs, and persists the row. Code uniqueness (global when unit-less,
// unit-scoped otherwise) is enforced by the store's unique index rather
// than a separate check, since an empty unit_id column already partitions
// public networks into their own uniqueness namespace.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	if err := provisioner.ValidateHostURI(req.HostURI); err != nil {
		return Response{}, err
	}

	unitCode, err := s.unitCodeOf(ctx, req.UnitID)
	if err != nil {
		return Response{}, err
	}
	vhost := vhostFor(unitCode)

	prov, err := s.provisionerFor(req.HostURI)
	if err != nil {
		return Response{}, err
	}

	if _, err := prov.ProvisionAll(ctx, provisioner.KindNetwork, unitCode, req.Code, vhost, req.HostURI, provisioner.Policies{}, issueCredentials); err != nil {
		return Response{}, fmt.Errorf("provisioning network resource: %w", err)
	}

	now := time.Now().UTC()
	row := Row{
		ID:        uuid.NewString(),
		UnitID:    req.UnitID,
		Code:      req.Code,
		Name:      req.Name,
		HostURI:   req.HostURI,
		Info:      req.Info,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		prov.DeprovisionAll(ctx, provisioner.KindNetwork, unitCode, req.Code, vhost)
		return Response{}, fmt.Errorf("creating network: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID)

	return created.ToResponse(), nil
}

// Get returns a network by id.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting network: %w", err)
	}
	return row.ToResponse(), nil
}

// Update overwrites a network's mutable fields. When the truncated
// scheme://host:port changes, the resource is provisioned on the new host
// before the old one is cleared, per spec.md §4.5; the username convention
// is deterministic so it stays stable across the move.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Response, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting network: %w", err)
	}

	if err := provisioner.ValidateHostURI(req.HostURI); err != nil {
		return Response{}, err
	}

	unitCode, err := s.unitCodeOf(ctx, existing.UnitID)
	if err != nil {
		return Response{}, err
	}
	vhost := vhostFor(unitCode)

	if provisioner.HostKey(req.HostURI) != provisioner.HostKey(existing.HostURI) {
		newProv, err := s.provisionerFor(req.HostURI)
		if err != nil {
			return Response{}, err
		}
		if _, err := newProv.ProvisionAll(ctx, provisioner.KindNetwork, unitCode, existing.Code, vhost, req.HostURI, provisioner.Policies{}, issueCredentials); err != nil {
			return Response{}, fmt.Errorf("provisioning network resource on new host: %w", err)
		}
		if oldProv, err := s.provisionerFor(existing.HostURI); err == nil {
			oldProv.DeprovisionAll(ctx, provisioner.KindNetwork, unitCode, existing.Code, vhost)
		}
	}

	existing.Name = req.Name
	existing.HostURI = req.HostURI
	existing.Info = req.Info
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, id, existing)
	if err != nil {
		return Response{}, fmt.Errorf("updating network: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "update").Inc()
	s.publish(ctx, controlbus.ActionUpdated, id)

	return updated.ToResponse(), nil
}

// Delete deprovisions every queue-role resource this network owns, then
// removes the row. Callers must ensure no NetworkRoute/DeviceRoute still
// references it.
func (s *Service) Delete(ctx context.Context, id string) error {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting network: %w", err)
	}

	unitCode, err := s.unitCodeOf(ctx, row.UnitID)
	if err != nil {
		s.logger.Warn("could not resolve unit code for deprovisioning, leaving broker resource in place", "network_id", id, "error", err)
	} else if prov, provErr := s.provisionerFor(row.HostURI); provErr == nil {
		prov.DeprovisionAll(ctx, provisioner.KindNetwork, unitCode, row.Code, vhostFor(unitCode))
	}

	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting network: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id)

	return nil
}

// List returns a page of networks per opts.
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
