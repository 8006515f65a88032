package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkbroker/linkbroker/internal/cache"
	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
	"github.com/linkbroker/linkbroker/pkg/network"
)

const entityName = "device"

// unitCodeLookup resolves a unit id to its immutable code. Declared
// locally rather than depending on pkg/unit directly, since pkg/unit's own
// cascade delete needs to depend on this package the other way around.
type unitCodeLookup interface {
	UnitCode(ctx context.Context, unitID string) (string, error)
}

// Service encapsulates Device business logic, including the "device" cache
// group's read-through/invalidate-on-write lifecycle and the unit/network
// membership check spec.md §3 invariant 2 requires: a device's network
// must belong to the device's unit, or be public.
type Service struct {
	store       storage.Store[Row]
	units       unitCodeLookup
	networks    storage.Store[network.Row]
	deviceCache *cache.Group[any]
	sender      *controlbus.Sender
	logger      *slog.Logger
	bulkChunk   int
}

// NewService creates a Device Service backed by the given store.
func NewService(store storage.Store[Row], units unitCodeLookup, networks storage.Store[network.Row], deviceCache *cache.Group[any], sender *controlbus.Sender, logger *slog.Logger, bulkChunk int) *Service {
	if bulkChunk <= 0 {
		bulkChunk = 1024
	}
	return &Service{store: store, units: units, networks: networks, deviceCache: deviceCache, sender: sender, logger: logger, bulkChunk: bulkChunk}
}

// resolveMembership loads the owning unit's code and checks that the named
// network belongs to that same unit or is public (spec.md §3 invariant 2).
func (s *Service) resolveMembership(ctx context.Context, unitID, networkID string) (unitCode string, err error) {
	unitCode, err = s.units.UnitCode(ctx, unitID)
	if err != nil {
		return "", fmt.Errorf("getting unit %s: %w", unitID, err)
	}
	net, err := s.networks.Get(ctx, networkID)
	if err != nil {
		return "", fmt.Errorf("getting network %s: %w", networkID, err)
	}
	if !net.IsPublic() && net.UnitID != unitID {
		return "", fmt.Errorf("%w: network %s belongs to a different unit", storage.ErrInvalidArgument, networkID)
	}
	return unitCode, nil
}

// Create adds a device.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	unitCode, err := s.resolveMembership(ctx, req.UnitID, req.NetworkID)
	if err != nil {
		return Response{}, err
	}

	now := time.Now().UTC()
	row := Row{
		ID:          uuid.NewString(),
		UnitID:      req.UnitID,
		UnitCode:    unitCode,
		NetworkID:   req.NetworkID,
		NetworkAddr: req.NetworkAddr,
		Profile:     req.Profile,
		Name:        req.Name,
		Info:        req.Info,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		return Response{}, fmt.Errorf("creating device: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID)

	return created.ToResponse(), nil
}

// CreateBulk adds many devices, committing in chunks of s.bulkChunk rather
// than as one all-or-nothing transaction, per spec.md's documented
// per-chunk bulk-add semantics: a failure partway through leaves earlier
// chunks committed. Each device's unit/network membership is checked
// before any chunk is written.
func (s *Service) CreateBulk(ctx context.Context, reqs []CreateRequest) ([]Response, error) {
	unitCodes := make(map[string]string)
	rows := make([]Row, len(reqs))
	now := time.Now().UTC()
	for i, req := range reqs {
		unitCode, ok := unitCodes[req.UnitID+"/"+req.NetworkID]
		if !ok {
			var err error
			unitCode, err = s.resolveMembership(ctx, req.UnitID, req.NetworkID)
			if err != nil {
				return nil, err
			}
			unitCodes[req.UnitID+"/"+req.NetworkID] = unitCode
		}
		rows[i] = Row{
			ID:          uuid.NewString(),
			UnitID:      req.UnitID,
			UnitCode:    unitCode,
			NetworkID:   req.NetworkID,
			NetworkAddr: req.NetworkAddr,
			Profile:     req.Profile,
			Name:        req.Name,
			Info:        req.Info,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	out := make([]Response, 0, len(rows))
	for start := 0; start < len(rows); start += s.bulkChunk {
		end := start + s.bulkChunk
		if end > len(rows) {
			end = len(rows)
		}
		created, err := s.store.AddBulk(ctx, rows[start:end])
		if err != nil {
			return out, fmt.Errorf("bulk creating devices (chunk %d-%d): %w", start, end, err)
		}
		for _, row := range created {
			out = append(out, row.ToResponse())
			telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
			s.publish(ctx, controlbus.ActionCreated, row.ID)
		}
	}
	return out, nil
}

// Get returns a device by id, read-through the "device" cache group.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	if s.deviceCache == nil {
		row, err := s.store.Get(ctx, id)
		if err != nil {
			return Response{}, fmt.Errorf("getting device: %w", err)
		}
		return row.ToResponse(), nil
	}

	v, err := s.deviceCache.Load(ctx, id, func(ctx context.Context, key string) (any, error) {
		row, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, cache.ErrMissing
			}
			return nil, err
		}
		return row, nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrMissing) {
			return Response{}, storage.ErrNotFound
		}
		return Response{}, fmt.Errorf("getting device: %w", err)
	}
	return v.(Row).ToResponse(), nil
}

// Update overwrites a device's mutable fields and invalidates its cache
// entry. Unit and network membership cannot change after create.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Response, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting device: %w", err)
	}

	existing.Profile = req.Profile
	existing.Name = req.Name
	existing.Info = req.Info
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.store.Update(ctx, id, existing)
	if err != nil {
		return Response{}, fmt.Errorf("updating device: %w", err)
	}

	if s.deviceCache != nil {
		s.deviceCache.Invalidate(id)
	}
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "update").Inc()
	s.publish(ctx, controlbus.ActionUpdated, id)

	return updated.ToResponse(), nil
}

// Delete removes a device and invalidates its cache entry. Callers must
// ensure no DeviceRoute still references it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	if s.deviceCache != nil {
		s.deviceCache.Invalidate(id)
	}
	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id)

	return nil
}

// List returns a page of devices per opts.
func (s *Service) List(ctx context.Context, opts storage.ListOptions) (storage.Page[Row], error) {
	return s.store.List(ctx, opts)
}

// InvalidateFromControlBus is the Receiver handler wired by app.go: a
// control-bus message from another Broker instance invalidates this
// instance's local cache entry for the affected device.
func (s *Service) InvalidateFromControlBus(msg controlbus.Message) {
	if s.deviceCache == nil {
		return
	}
	if msg.Action == controlbus.ActionResync {
		s.deviceCache.Purge()
		return
	}
	s.deviceCache.Invalidate(msg.ID)
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
