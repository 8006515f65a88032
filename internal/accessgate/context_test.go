package accessgate

import (
	"context"
	"reflect"
	"testing"
)

func TestCallerFromScope(t *testing.T) {
	tests := []struct {
		name       string
		scope      string
		wantScopes []string
		wantRoles  []string
	}{
		{
			name:       "empty scope",
			scope:      "",
			wantScopes: nil,
			wantRoles:  nil,
		},
		{
			name:       "plain scopes only",
			scope:      "device:read device:write",
			wantScopes: []string{"device:read", "device:write"},
			wantRoles:  nil,
		},
		{
			name:       "roles extracted from role: prefix",
			scope:      "device:read role:admin unit:7 role:operator",
			wantScopes: []string{"device:read", "unit:7"},
			wantRoles:  []string{"admin", "operator"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := callerFromScope("user-1", "client-1", tt.scope)
			if !reflect.DeepEqual(c.Scopes, tt.wantScopes) {
				t.Errorf("Scopes = %v, want %v", c.Scopes, tt.wantScopes)
			}
			if !reflect.DeepEqual(c.Roles, tt.wantRoles) {
				t.Errorf("Roles = %v, want %v", c.Roles, tt.wantRoles)
			}
		})
	}
}

func TestCallerHasScopeAndRole(t *testing.T) {
	c := Caller{Scopes: []string{"device:read"}, Roles: []string{"operator"}}
	if !c.HasScope("device:read") {
		t.Error("expected HasScope(device:read) = true")
	}
	if c.HasScope("device:write") {
		t.Error("expected HasScope(device:write) = false")
	}
	if !c.HasRole("operator") {
		t.Error("expected HasRole(operator) = true")
	}
	if c.HasRole("admin") {
		t.Error("expected HasRole(admin) = false")
	}
}

func TestContextRoundTrip(t *testing.T) {
	c := Caller{UserID: "u1"}
	ctx := NewContext(context.Background(), c)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected caller present")
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "u1")
	}

	_, ok = FromContext(context.Background())
	if ok {
		t.Error("expected no caller in a bare context")
	}
}
