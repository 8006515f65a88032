package networkroute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkbroker/linkbroker/internal/cache"
	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
	"github.com/linkbroker/linkbroker/pkg/application"
	"github.com/linkbroker/linkbroker/pkg/network"
)

const entityName = "networkroute"

// unitCodeLookup resolves a unit id to its immutable code. Declared
// locally rather than depending on pkg/unit directly, since pkg/unit's own
// cascade delete needs to depend on this package the other way around.
type unitCodeLookup interface {
	UnitCode(ctx context.Context, unitID string) (string, error)
}

// Service encapsulates NetworkRoute business logic: binding a Network to
// an Application and maintaining the denormalized unit/application/
// network codes, plus the "networkroute.uldata" cache group's
// invalidation lifecycle. Broker resource provisioning belongs to
// Application/Network create/update/delete, not here (spec.md §4.5) — a
// route only ever reads already-provisioned state.
type Service struct {
	store    storage.Store[Row]
	units    unitCodeLookup
	apps     storage.Store[application.Row]
	networks storage.Store[network.Row]
	ulCache  *cache.Group[any]
	sender   *controlbus.Sender
	logger   *slog.Logger
}

// NewService creates a NetworkRoute Service.
func NewService(store storage.Store[Row], units unitCodeLookup, apps storage.Store[application.Row], networks storage.Store[network.Row], ulCache *cache.Group[any], sender *controlbus.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, units: units, apps: apps, networks: networks, ulCache: ulCache, sender: sender, logger: logger}
}

// Create binds a network to an application, denormalizing the unit,
// application, and network codes. A unit-scoped network may only route to
// an application belonging to the same unit; a public network may route
// to any application.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	net, err := s.networks.Get(ctx, req.NetworkID)
	if err != nil {
		return Response{}, fmt.Errorf("getting network %s: %w", req.NetworkID, err)
	}
	app, err := s.apps.Get(ctx, req.ApplicationID)
	if err != nil {
		return Response{}, fmt.Errorf("getting application %s: %w", req.ApplicationID, err)
	}
	if !net.IsPublic() && net.UnitID != app.UnitID {
		return Response{}, fmt.Errorf("%w: application %s belongs to a different unit than network %s", storage.ErrInvalidArgument, req.ApplicationID, req.NetworkID)
	}

	var unitCode string
	if net.UnitID != "" {
		var err error
		unitCode, err = s.units.UnitCode(ctx, net.UnitID)
		if err != nil {
			return Response{}, fmt.Errorf("getting unit %s: %w", net.UnitID, err)
		}
	}

	now := time.Now().UTC()
	row := Row{
		ID:              uuid.NewString(),
		NetworkID:       req.NetworkID,
		ApplicationID:   req.ApplicationID,
		UnitID:          net.UnitID,
		UnitCode:        unitCode,
		ApplicationCode: app.Code,
		NetworkCode:     net.Code,
		ULDataKey:       req.NetworkID,
		Info:            req.Info,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		return Response{}, fmt.Errorf("creating network route: %w", err)
	}

	if s.ulCache != nil {
		s.ulCache.Invalidate(created.ULDataKey)
	}
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID, []string{created.ULDataKey})

	return created.ToResponse(), nil
}

// Get returns a network route by id.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting network route: %w", err)
	}
	return row.ToResponse(), nil
}

// Update overwrites a network route's info bag and invalidates its cached key.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Response, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting network route: %w", err)
	}

	existing.Info = req.Info
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, id, existing)
	if err != nil {
		return Response{}, fmt.Errorf("updating network route: %w", err)
	}

	if s.ulCache != nil {
		s.ulCache.Invalidate(updated.ULDataKey)
	}
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "update").Inc()
	s.publish(ctx, controlbus.ActionUpdated, id, []string{updated.ULDataKey})

	return updated.ToResponse(), nil
}

// Delete removes a network route's routing-table row and invalidates its
// cached key.
func (s *Service) Delete(ctx context.Context, id string) error {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting network route: %w", err)
	}

	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting network route: %w", err)
	}

	if s.ulCache != nil {
		s.ulCache.Invalidate(row.ULDataKey)
	}
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id, []string{row.ULDataKey})

	return nil
}

// List returns a page of network routes per opts.
func (s *Service) List(ctx context.Context, opts storage.ListOptions) (storage.Page[Row], error) {
	return s.store.List(ctx, opts)
}

// InvalidateFromControlBus is the Receiver handler wired by app.go.
func (s *Service) InvalidateFromControlBus(msg controlbus.Message) {
	if s.ulCache == nil {
		return
	}
	if msg.Action == controlbus.ActionResync {
		s.ulCache.Purge()
		return
	}
	for _, key := range msg.CacheKeys {
		s.ulCache.Invalidate(key)
	}
}

func (s *Service) publish(ctx context.Context, action controlbus.Action, id string, cacheKeys []string) {
	if s.sender == nil {
		return
	}
	msg := controlbus.Message{Entity: entityName, Action: action, ID: id, CacheKeys: cacheKeys, At: time.Now().UTC()}
	if err := s.sender.Publish(ctx, entityName, msg); err != nil {
		s.logger.Warn("publishing control-bus message failed", "entity", entityName, "id", id, "error", err)
	}
}
