package oauth2

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

// Stores bundles the six storage.Store[T] instances the OAuth2 Authority
// needs. Every sub-entity rides the same generic storage engine the
// Routing Engine packages use, rather than a bespoke auth schema.
type Stores struct {
	Users         storage.Store[User]
	Clients       storage.Store[Client]
	LoginSessions storage.Store[LoginSession]
	AuthCodes     storage.Store[AuthorizationCode]
	AccessTokens  storage.Store[AccessToken]
	RefreshTokens storage.Store[RefreshToken]
}

var userMapper = pgstore.Mapper[User]{
	Table:    "oauth2_users",
	IDColumn: "id",
	Columns:  []string{"id", "email", "password_hash", "disabled", "created_at", "updated_at"},
	Values: func(r User) []any {
		return []any{r.ID, r.Email, r.PasswordHash, r.Disabled, r.CreatedAt, r.UpdatedAt}
	},
	IDOf:        func(r User) string { return r.ID },
	CreatedAtOf: func(r User) time.Time { return r.CreatedAt },
	WithID:      func(r User, id string) User { r.ID = id; return r },
}

var clientMapper = pgstore.Mapper[Client]{
	Table:    "oauth2_clients",
	IDColumn: "id",
	Columns:  []string{"id", "name", "secret_hash", "redirect_uris", "scopes", "confidential", "owner_user_id", "created_at", "updated_at"},
	Values: func(r Client) []any {
		return []any{r.ID, r.Name, r.SecretHash, r.RedirectURIs, r.Scopes, r.Confidential, r.OwnerUserID, r.CreatedAt, r.UpdatedAt}
	},
	IDOf:        func(r Client) string { return r.ID },
	CreatedAtOf: func(r Client) time.Time { return r.CreatedAt },
	WithID:      func(r Client, id string) Client { r.ID = id; return r },
}

var loginSessionMapper = pgstore.Mapper[LoginSession]{
	Table:    "oauth2_login_sessions",
	IDColumn: "id",
	Columns:  []string{"id", "user_id", "client_id", "scope", "redirect_uri", "state", "expires_at", "created_at"},
	Values: func(r LoginSession) []any {
		return []any{r.ID, r.UserID, r.ClientID, r.Scope, r.RedirectURI, r.State, r.ExpiresAt, r.CreatedAt}
	},
	IDOf:        func(r LoginSession) string { return r.ID },
	CreatedAtOf: func(r LoginSession) time.Time { return r.CreatedAt },
	WithID:      func(r LoginSession, id string) LoginSession { r.ID = id; return r },
}

var authCodeMapper = pgstore.Mapper[AuthorizationCode]{
	Table:    "oauth2_authorization_codes",
	IDColumn: "id",
	Columns:  []string{"id", "code_hash", "client_id", "user_id", "scope", "redirect_uri", "expires_at", "created_at"},
	Values: func(r AuthorizationCode) []any {
		return []any{r.ID, r.CodeHash, r.ClientID, r.UserID, r.Scope, r.RedirectURI, r.ExpiresAt, r.CreatedAt}
	},
	IDOf:        func(r AuthorizationCode) string { return r.ID },
	CreatedAtOf: func(r AuthorizationCode) time.Time { return r.CreatedAt },
	WithID:      func(r AuthorizationCode, id string) AuthorizationCode { r.ID = id; return r },
}

var accessTokenMapper = pgstore.Mapper[AccessToken]{
	Table:    "oauth2_access_tokens",
	IDColumn: "id",
	Columns:  []string{"id", "token_hash", "client_id", "user_id", "scope", "expires_at", "revoked", "created_at"},
	Values: func(r AccessToken) []any {
		return []any{r.ID, r.TokenHash, r.ClientID, r.UserID, r.Scope, r.ExpiresAt, r.Revoked, r.CreatedAt}
	},
	IDOf:        func(r AccessToken) string { return r.ID },
	CreatedAtOf: func(r AccessToken) time.Time { return r.CreatedAt },
	WithID:      func(r AccessToken, id string) AccessToken { r.ID = id; return r },
}

var refreshTokenMapper = pgstore.Mapper[RefreshToken]{
	Table:    "oauth2_refresh_tokens",
	IDColumn: "id",
	Columns:  []string{"id", "token_hash", "access_token_id", "client_id", "user_id", "scope", "expires_at", "revoked", "created_at"},
	Values: func(r RefreshToken) []any {
		return []any{r.ID, r.TokenHash, r.AccessTokenID, r.ClientID, r.UserID, r.Scope, r.ExpiresAt, r.Revoked, r.CreatedAt}
	},
	IDOf:        func(r RefreshToken) string { return r.ID },
	CreatedAtOf: func(r RefreshToken) time.Time { return r.CreatedAt },
	WithID:      func(r RefreshToken, id string) RefreshToken { r.ID = id; return r },
}

// NewPostgresStores wires all six OAuth2 sub-entities onto the generic
// Postgres engine.
func NewPostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Users:         pgstore.NewStore[User](pool, userMapper),
		Clients:       pgstore.NewStore[Client](pool, clientMapper),
		LoginSessions: pgstore.NewStore[LoginSession](pool, loginSessionMapper),
		AuthCodes:     pgstore.NewStore[AuthorizationCode](pool, authCodeMapper),
		AccessTokens:  pgstore.NewStore[AccessToken](pool, accessTokenMapper),
		RefreshTokens: pgstore.NewStore[RefreshToken](pool, refreshTokenMapper),
	}
}

// NewMongoStores wires all six OAuth2 sub-entities onto the generic Mongo
// engine, including unique indexes for the lookup paths the token flows
// depend on (email, token hash).
func NewMongoStores(ctx context.Context, db *mongo.Database) (Stores, error) {
	users := mongostore.NewStore[User](db, "oauth2_users", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	clients := mongostore.NewStore[Client](db, "oauth2_clients", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "owner_user_id", Value: 1}}},
	})
	sessions := mongostore.NewStore[LoginSession](db, "oauth2_login_sessions", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
	})
	codes := mongostore.NewStore[AuthorizationCode](db, "oauth2_authorization_codes", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "code_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	access := mongostore.NewStore[AccessToken](db, "oauth2_access_tokens", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	refresh := mongostore.NewStore[RefreshToken](db, "oauth2_refresh_tokens", []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
	})

	if err := users.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_users collection: %w", err)
	}
	if err := clients.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_clients collection: %w", err)
	}
	if err := sessions.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_login_sessions collection: %w", err)
	}
	if err := codes.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_authorization_codes collection: %w", err)
	}
	if err := access.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_access_tokens collection: %w", err)
	}
	if err := refresh.Init(ctx); err != nil {
		return Stores{}, fmt.Errorf("init oauth2_refresh_tokens collection: %w", err)
	}

	return Stores{
		Users:         users,
		Clients:       clients,
		LoginSessions: sessions,
		AuthCodes:     codes,
		AccessTokens:  access,
		RefreshTokens: refresh,
	}, nil
}
