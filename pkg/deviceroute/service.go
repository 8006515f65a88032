package deviceroute

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
	"github.com/linkbroker/linkbroker/pkg/device"
	"github.com/linkbroker/linkbroker/pkg/network"
)

const entityName = "deviceroute"

// unitCodeLookup resolves a unit id to its immutable code. Declared
// locally rather than depending on pkg/unit directly, since pkg/unit's own
// cascade delete needs to depend on this package the other way around.
type unitCodeLookup interface {
	UnitCode(ctx context.Context, unitID string) (string, error)
}

// Caches groups the three cache.Group instances a device route's keys are
// invalidated on, per spec.md §4.2.
type Caches struct {
	ULData    *cache.Group[any]
	DLData    *cache.Group[any]
	DLDataPub *cache.Group[any]
}

// Service encapsulates DeviceRoute business logic: binding a Device to an
// Application and maintaining the denormalized unit/application/network
// codes the Cache Layer's routing keys are built from, plus the
// three-cache-group invalidation a mutation triggers. Broker resource
// provisioning belongs to Application/Network create/update/delete, not
// here (spec.md §4.5) — a route only ever reads already-provisioned state.
type Service struct {
	store    storage.Store[Row]
	units    unitCodeLookup
	apps     storage.Store[application.Row]
	networks storage.Store[network.Row]
	devices  storage.Store[device.Row]
	caches   Caches
	sender   *controlbus.Sender
	logger   *slog.Logger
}

// NewService creates a DeviceRoute Service.
func NewService(store storage.Store[Row], units unitCodeLookup, apps storage.Store[application.Row], networks storage.Store[network.Row], devices storage.Store[device.Row], caches Caches, sender *controlbus.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, units: units, apps: apps, networks: networks, devices: devices, caches: caches, sender: sender, logger: logger}
}

// Create binds a device to an application, denormalizing the unit,
// application, and network codes the routing keys are derived from. The
// application must belong to the same unit as the device.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	dev, err := s.devices.Get(ctx, req.DeviceID)
	if err != nil {
		return Response{}, fmt.Errorf("getting device %s: %w", req.DeviceID, err)
	}
	app, err := s.apps.Get(ctx, req.ApplicationID)
	if err != nil {
		return Response{}, fmt.Errorf("getting application %s: %w", req.ApplicationID, err)
	}
	if app.UnitID != dev.UnitID {
		return Response{}, fmt.Errorf("%w: application %s belongs to a different unit than device %s", storage.ErrInvalidArgument, req.ApplicationID, req.DeviceID)
	}
	net, err := s.networks.Get(ctx, dev.NetworkID)
	if err != nil {
		return Response{}, fmt.Errorf("getting network %s: %w", dev.NetworkID, err)
	}
	unitCode, err := s.units.UnitCode(ctx, dev.UnitID)
	if err != nil {
		return Response{}, fmt.Errorf("getting unit %s: %w", dev.UnitID, err)
	}

	now := time.Now().UTC()
	row := Row{
		ID:              uuid.NewString(),
		DeviceID:        req.DeviceID,
		ApplicationID:   req.ApplicationID,
		NetworkID:       dev.NetworkID,
		UnitID:          dev.UnitID,
		NetworkAddr:     dev.NetworkAddr,
		Profile:         dev.Profile,
		UnitCode:        unitCode,
		ApplicationCode: app.Code,
		NetworkCode:     net.Code,
		ULDataKey:       req.DeviceID,
		DLDataKey:       fmt.Sprintf("%s.%s.%s", unitCode, net.Code, dev.NetworkAddr),
		DLDataPubKey:    fmt.Sprintf("%s.%s", dev.UnitID, req.DeviceID),
		Info:            req.Info,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		return Response{}, fmt.Errorf("creating device route: %w", err)
	}

	s.invalidate(created)
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID, cacheKeysOf(created))

	return created.ToResponse(), nil
}

// Get returns a device route by id.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting device route: %w", err)
	}
	return row.ToResponse(), nil
}

// Update overwrites a device route's info bag and invalidates its cached keys.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Response, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting device route: %w", err)
	}

	existing.Info = req.Info
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, id, existing)
	if err != nil {
		return Response{}, fmt.Errorf("updating device route: %w", err)
	}

	s.invalidate(updated)
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "update").Inc()
	s.publish(ctx, controlbus.ActionUpdated, id, cacheKeysOf(updated))

	return updated.ToResponse(), nil
}

// Delete removes a device route's routing-table row and invalidates its
// cached keys.
func (s *Service) Delete(ctx context.Context, id string) error {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting device route: %w", err)
	}

	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting device route: %w", err)
	}

	s.invalidate(row)
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id, cacheKeysOf(row))

	return nil
}

// List returns a page of device routes per opts.
func (s *Service) List(ctx context.Context, opts storage.ListOptions) (storage.Page[Row], error) {
	return s.store.List(ctx, opts)
}

// InvalidateFromControlBus is the Receiver handler wired by app.go.
func (s *Service) InvalidateFromControlBus(msg controlbus.Message) {
	if msg.Action == controlbus.ActionResync {
		s.caches.ULData.Purge()
		s.caches.DLData.Purge()
		s.caches.DLDataPub.Purge()
		return
	}
	for _, key := range msg.CacheKeys {
		s.caches.ULData.Invalidate(key)
		s.caches.DLData.Invalidate(key)
		s.caches.DLDataPub.Invalidate(key)
	}
}

func (s *Service) invalidate(row Row) {
	s.caches.ULData.Invalidate(row.ULDataKey)
	s.caches.DLData.Invalidate(row.DLDataKey)
	s.caches.DLDataPub.Invalidate(row.DLDataPubKey)
}

// cacheKeysOf lists the cache keys a row's mutation affects, so a peer
// Broker instance's InvalidateFromControlBus can invalidate the same three
// groups this instance just did, without re-deriving the keys itself.
func cacheKeysOf(row Row) []string {
	return []string{row.ULDataKey, row.DLDataKey, row.DLDataPubKey}
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
