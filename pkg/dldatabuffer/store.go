package dldatabuffer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linkbroker/linkbroker/internal/storage"
	mongostore "github.com/linkbroker/linkbroker/internal/storage/mongo"
	pgstore "github.com/linkbroker/linkbroker/internal/storage/postgres"
)

var postgresMapper = pgstore.Mapper[Row]{
	Table:    "dl_data_buffers",
	IDColumn: "id",
	Columns: []string{
		"id", "device_route_id", "unit_id", "unit_code", "application_id",
		"network_id", "network_code", "network_addr", "device_id",
		"payload", "confirmed", "expires_at", "created_at", "updated_at",
	},
	Values: func(r Row) []any {
		return []any{
			r.ID, r.DeviceRouteID, r.UnitID, r.UnitCode, r.ApplicationID,
			r.NetworkID, r.NetworkCode, r.NetworkAddr, r.DeviceID,
			r.Payload, r.Confirmed, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
		}
	},
	IDOf:        func(r Row) string { return r.ID },
	CreatedAtOf: func(r Row) time.Time { return r.CreatedAt },
	WithID:      func(r Row, id string) Row { r.ID = id; return r },
}

// NewPostgresStore wires the DlDataBuffer entity onto the generic Postgres engine.
func NewPostgresStore(pool *pgxpool.Pool) storage.Store[Row] {
	return pgstore.NewStore[Row](pool, postgresMapper)
}

// NewMongoStore wires the DlDataBuffer entity onto the generic Mongo engine.
func NewMongoStore(ctx context.Context, db *mongo.Database) (storage.Store[Row], error) {
	s := mongostore.NewStore[Row](db, "dl_data_buffers", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "device_route_id", Value: 1}}},
		{Keys: bson.D{{Key: "unit_id", Value: 1}}},
		{Keys: bson.D{{Key: "unit_code", Value: 1}, {Key: "network_code", Value: 1}, {Key: "network_addr", Value: 1}}},
	})
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init dl_data_buffers collection: %w", err)
	}
	return s, nil
}
