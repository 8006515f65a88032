package accessgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

type fakeIntrospector struct {
	resp IntrospectResponse
	err  error
}

func (f fakeIntrospector) Introspect(ctx context.Context, rawToken string) (IntrospectResponse, error) {
	return f.resp, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMiddleware_NoAuthHeader(t *testing.T) {
	mw := Middleware(fakeIntrospector{}, testLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "unauthorized" {
		t.Errorf("error = %q, want %q", resp["error"], "unauthorized")
	}
}

func TestMiddleware_InactiveToken(t *testing.T) {
	mw := Middleware(fakeIntrospector{resp: IntrospectResponse{Active: false}}, testLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMiddleware_ActiveTokenPopulatesCaller(t *testing.T) {
	introspector := fakeIntrospector{resp: IntrospectResponse{
		Active:   true,
		Scope:    "device:read role:operator unit:42",
		ClientID: "cli-1",
		UserID:   "user-1",
	}}
	mw := Middleware(introspector, testLogger())

	var gotCaller Caller
	var ok bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller, ok = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !ok {
		t.Fatal("expected caller in context")
	}
	if gotCaller.UserID != "user-1" || gotCaller.ClientID != "cli-1" {
		t.Errorf("caller = %+v", gotCaller)
	}
	if !gotCaller.HasScope("device:read") || !gotCaller.HasScope("unit:42") {
		t.Errorf("expected scopes to include device:read and unit:42, got %v", gotCaller.Scopes)
	}
	if !gotCaller.HasRole("operator") {
		t.Errorf("expected role operator, got %v", gotCaller.Roles)
	}
}

func TestRequireScope(t *testing.T) {
	mw := RequireScope("device:write")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing scope is forbidden", func(t *testing.T) {
		ctx := NewContext(context.Background(), Caller{Scopes: []string{"device:read"}})
		r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("granted scope passes", func(t *testing.T) {
		ctx := NewContext(context.Background(), Caller{Scopes: []string{"device:write"}})
		r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("no caller at all is forbidden", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole("admin", "operator")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := NewContext(context.Background(), Caller{Roles: []string{"viewer"}})
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	ctx = NewContext(context.Background(), Caller{Roles: []string{"operator"}})
	r = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequireUnitMember(t *testing.T) {
	mw := RequireUnitMember(func(r *http.Request) string { return r.URL.Query().Get("unit_id") })
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("wildcard scope grants any unit", func(t *testing.T) {
		ctx := NewContext(context.Background(), Caller{Scopes: []string{"unit:*"}})
		r := httptest.NewRequest(http.MethodGet, "/?unit_id=99", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("scoped to a different unit is forbidden", func(t *testing.T) {
		ctx := NewContext(context.Background(), Caller{Scopes: []string{"unit:1"}})
		r := httptest.NewRequest(http.MethodGet, "/?unit_id=2", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}
