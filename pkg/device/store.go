package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linkbroker/linkbroker/internal/storage"
	mongostore "github.com/linkbroker/linkbroker/internal/storage/mongo"
	pgstore "github.com/linkbroker/linkbroker/internal/storage/postgres"
)

var postgresMapper = pgstore.Mapper[Row]{
	Table:    "devices",
	IDColumn: "id",
	Columns:  []string{"id", "unit_id", "unit_code", "network_id", "network_addr", "profile", "name", "info", "created_at", "updated_at"},
	Values: func(r Row) []any {
		return []any{r.ID, r.UnitID, r.UnitCode, r.NetworkID, r.NetworkAddr, r.Profile, r.Name, r.Info, r.CreatedAt, r.UpdatedAt}
	},
	IDOf:        func(r Row) string { return r.ID },
	CreatedAtOf: func(r Row) time.Time { return r.CreatedAt },
	WithID:      func(r Row, id string) Row { r.ID = id; return r },
}

// NewPostgresStore wires the Device entity onto the generic Postgres engine.
func NewPostgresStore(pool *pgxpool.Pool) storage.Store[Row] {
	return pgstore.NewStore[Row](pool, postgresMapper)
}

// NewMongoStore wires the Device entity onto the generic Mongo engine.
func NewMongoStore(ctx context.Context, db *mongo.Database) (storage.Store[Row], error) {
	s := mongostore.NewStore[Row](db, "devices", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "network_id", Value: 1}, {Key: "network_addr", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init devices collection: %w", err)
	}
	return s, nil
}
