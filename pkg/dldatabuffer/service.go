package dldatabuffer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
	"github.com/linkbroker/linkbroker/pkg/deviceroute"
)

const entityName = "dldatabuffer"

// Service encapsulates DlDataBuffer business logic: a device route's
// queued downlink payloads awaiting delivery confirmation, correlated by
// (unit, application, network, network_addr, device) so the downlink path
// can look up pending payloads directly (spec.md §3).
type Service struct {
	store        storage.Store[Row]
	deviceRoutes storage.Store[deviceroute.Row]
	sender       *controlbus.Sender
	logger       *slog.Logger
}

// NewService creates a DlDataBuffer Service backed by the given store.
func NewService(store storage.Store[Row], deviceRoutes storage.Store[deviceroute.Row], sender *controlbus.Sender, logger *slog.Logger) *Service {
	return &Service{store: store, deviceRoutes: deviceRoutes, sender: sender, logger: logger}
}

// Create enqueues a downlink payload, denormalizing the correlation record
// from the referenced device route.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	route, err := s.deviceRoutes.Get(ctx, req.DeviceRouteID)
	if err != nil {
		return Response{}, fmt.Errorf("getting device route %s: %w", req.DeviceRouteID, err)
	}

	now := time.Now().UTC()
	row := Row{
		ID:            uuid.NewString(),
		DeviceRouteID: req.DeviceRouteID,
		UnitID:        route.UnitID,
		UnitCode:      route.UnitCode,
		ApplicationID: route.ApplicationID,
		NetworkID:     route.NetworkID,
		NetworkCode:   route.NetworkCode,
		NetworkAddr:   route.NetworkAddr,
		DeviceID:      route.DeviceID,
		Payload:       req.Payload,
		Confirmed:     req.Confirmed,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.store.Add(ctx, row)
	if err != nil {
		return Response{}, fmt.Errorf("creating dl data buffer entry: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "create").Inc()
	s.publish(ctx, controlbus.ActionCreated, created.ID)

	return created.ToResponse(), nil
}

// Get returns a buffered downlink payload by id.
func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting dl data buffer entry: %w", err)
	}
	return row.ToResponse(), nil
}

// MarkDelivered deletes the buffered entry once delivery is confirmed,
// fanning out the deletion so every Broker instance's downstream state
// stays consistent.
func (s *Service) MarkDelivered(ctx context.Context, id string) error {
	if err := s.store.Del(ctx, id); err != nil {
		return fmt.Errorf("deleting dl data buffer entry: %w", err)
	}

	telemetry.RoutingMutationsTotal.WithLabelValues(entityName, "delete").Inc()
	s.publish(ctx, controlbus.ActionDeleted, id)

	return nil
}

// List returns a page of buffered downlink payloads per opts, normally
// filtered to one device route's pending entries.
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
