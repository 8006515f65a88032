// Package accessgate authenticates inbound HTTP requests against the
// OAuth2 Authority and enforces scope/role checks, narrowing the
// teacher's multi-method auth chain (session JWT/OIDC/PAT/API-key/dev
// header) down to the Broker Routing Core's single bearer-opaque-token
// contract (spec.md §4.6/§4.7).
package accessgate

import (
	"context"
	"strings"
)

// Caller is the authenticated identity attached to a request context once
// its bearer token has been introspected against the OAuth2 Authority.
type Caller struct {
	UserID   string
	ClientID string
	Roles    []string
	Scopes   []string
}

// HasScope reports whether the caller's token grants the given scope.
func (c Caller) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole reports whether the caller holds the given role.
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// callerFromScope splits an introspection response's space-separated
// scope string into scopes and, by convention, pulls out any
// "role:<name>" entries as roles so a single OAuth2 scope string can
// carry both without a second token format.
func callerFromScope(userID, clientID, scope string) Caller {
	c := Caller{UserID: userID, ClientID: clientID}
	for _, tok := range strings.Fields(scope) {
		if name, ok := strings.CutPrefix(tok, "role:"); ok {
			c.Roles = append(c.Roles, name)
			continue
		}
		c.Scopes = append(c.Scopes, tok)
	}
	return c
}

type contextKey int

const callerContextKey contextKey = iota

// NewContext returns a context carrying the given Caller.
func NewContext(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

// FromContext returns the Caller stored in ctx, or the zero Caller and
// false if none is present.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey).(Caller)
	return c, ok
}
