// Package oauth2 implements the Broker Routing Core's OAuth2 identity
// authority: RFC 6749 authorization-code, client-credentials, and refresh
// grants, plus an RFC 7662-shaped introspection endpoint the Access Gate
// calls to validate bearer tokens (spec.md §4.6/§4.7).
package oauth2

import "time"

// User is a human principal that can complete the authorization-code
// login flow.
type User struct {
	ID           string    `db:"id" bson:"_id"`
	Email        string    `db:"email" bson:"email"`
	PasswordHash string    `db:"password_hash" bson:"password_hash"`
	Disabled     bool      `db:"disabled" bson:"disabled"`
	CreatedAt    time.Time `db:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" bson:"updated_at"`
}

func (r User) EntityID() string           { return r.ID }
func (r User) EntityCreatedAt() time.Time { return r.CreatedAt }

// Client is an OAuth2 client registration. Confidential clients
// (Confidential true) hold a SecretHash that authenticateClient checks and may use
// the client-credentials grant; public clients (Confidential false) skip the
// secret check and are rejected by the client-credentials grant. No PKCE
// verification is performed.
type Client struct {
	ID            string    `db:"id" bson:"_id"`
	Name          string    `db:"name" bson:"name"`
	SecretHash    string    `db:"secret_hash" bson:"secret_hash"`
	RedirectURIs  []string  `db:"redirect_uris" bson:"redirect_uris"`
	Scopes        []string  `db:"scopes" bson:"scopes"`
	Confidential  bool      `db:"confidential" bson:"confidential"`
	OwnerUserID   string    `db:"owner_user_id" bson:"owner_user_id"`
	CreatedAt     time.Time `db:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" bson:"updated_at"`
}

func (r Client) EntityID() string           { return r.ID }
func (r Client) EntityCreatedAt() time.Time { return r.CreatedAt }

// LoginSession is the short-lived, single-use record created once a user
// authenticates in the authorization-code flow's "login" step; its ID
// doubles as the signed JWT's jti, so consuming the DB row (deleting it)
// makes the JWT unusable for a second consent step even before expiry.
type LoginSession struct {
	ID          string    `db:"id" bson:"_id"`
	UserID      string    `db:"user_id" bson:"user_id"`
	ClientID    string    `db:"client_id" bson:"client_id"`
	Scope       string    `db:"scope" bson:"scope"`
	RedirectURI string    `db:"redirect_uri" bson:"redirect_uri"`
	State       string    `db:"state" bson:"state"`
	ExpiresAt   time.Time `db:"expires_at" bson:"expires_at"`
	CreatedAt   time.Time `db:"created_at" bson:"created_at"`
}

func (r LoginSession) EntityID() string           { return r.ID }
func (r LoginSession) EntityCreatedAt() time.Time { return r.CreatedAt }

// AuthorizationCode is the opaque, single-use code exchanged at the token
// endpoint for an AccessToken/RefreshToken pair.
type AuthorizationCode struct {
	ID          string    `db:"id" bson:"_id"`
	CodeHash    string    `db:"code_hash" bson:"code_hash"`
	ClientID    string    `db:"client_id" bson:"client_id"`
	UserID      string    `db:"user_id" bson:"user_id"`
	Scope       string    `db:"scope" bson:"scope"`
	RedirectURI string    `db:"redirect_uri" bson:"redirect_uri"`
	ExpiresAt   time.Time `db:"expires_at" bson:"expires_at"`
	CreatedAt   time.Time `db:"created_at" bson:"created_at"`
}

func (r AuthorizationCode) EntityID() string           { return r.ID }
func (r AuthorizationCode) EntityCreatedAt() time.Time { return r.CreatedAt }

// AccessToken is an opaque, server-stored bearer token, looked up by its
// SHA-256 hash (never the raw token, matching the teacher's apikey/pat
// "never store the secret itself" idiom).
type AccessToken struct {
	ID        string    `db:"id" bson:"_id"`
	TokenHash string    `db:"token_hash" bson:"token_hash"`
	ClientID  string    `db:"client_id" bson:"client_id"`
	UserID    *string   `db:"user_id" bson:"user_id"`
	Scope     string    `db:"scope" bson:"scope"`
	ExpiresAt time.Time `db:"expires_at" bson:"expires_at"`
	Revoked   bool      `db:"revoked" bson:"revoked"`
	CreatedAt time.Time `db:"created_at" bson:"created_at"`
}

func (r AccessToken) EntityID() string           { return r.ID }
func (r AccessToken) EntityCreatedAt() time.Time { return r.CreatedAt }

// RefreshToken is an opaque, server-stored token used to mint a new
// AccessToken (and, when rotation is enabled, a new RefreshToken) without
// re-running the authorization-code flow.
type RefreshToken struct {
	ID            string    `db:"id" bson:"_id"`
	TokenHash     string    `db:"token_hash" bson:"token_hash"`
	AccessTokenID string    `db:"access_token_id" bson:"access_token_id"`
	ClientID      string    `db:"client_id" bson:"client_id"`
	UserID        *string   `db:"user_id" bson:"user_id"`
	Scope         string    `db:"scope" bson:"scope"`
	ExpiresAt     time.Time `db:"expires_at" bson:"expires_at"`
	Revoked       bool      `db:"revoked" bson:"revoked"`
	CreatedAt     time.Time `db:"created_at" bson:"created_at"`
}

func (r RefreshToken) EntityID() string           { return r.ID }
func (r RefreshToken) EntityCreatedAt() time.Time { return r.CreatedAt }

// TokenResponse is the RFC 6749 §5.1 access token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectResponse is the RFC 7662 §2.2 introspection response body.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	UserID    string `json:"sub,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}
