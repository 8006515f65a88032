package oauth2

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T) (*Handler, Stores, Client) {
	t.Helper()
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})
	return NewHandler(svc), stores, client
}

func TestHandleToken_ClientCredentials(t *testing.T) {
	h, _, client := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/oauth2", h.Routes())

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {client.ID},
		"client_secret": {"s3cret"},
		"scope":         {"device:read"},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected a non-empty access_token")
	}
}

func TestHandleToken_UnsupportedGrantType(t *testing.T) {
	h, _, client := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/oauth2", h.Routes())

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {client.ID},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleToken_BadClientSecret(t *testing.T) {
	h, _, client := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/oauth2", h.Routes())

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {client.ID},
		"client_secret": {"wrong"},
		"scope":         {"device:read"},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "invalid_client" {
		t.Errorf("error = %q, want %q", resp["error"], "invalid_client")
	}
}

func TestHandleIntrospect_RoundTrip(t *testing.T) {
	h, _, client := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/oauth2", h.Routes())

	tokenResp, err := h.svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("seeding access token: %v", err)
	}

	body := `{"token":"` + tokenResp.AccessToken + `"}`
	r := httptest.NewRequest(http.MethodPost, "/oauth2/introspect", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp IntrospectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Active {
		t.Fatal("expected introspection to report the token active")
	}
}

func TestHandleLogin_ValidationError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	router := chi.NewRouter()
	router.Mount("/oauth2", h.Routes())

	r := httptest.NewRequest(http.MethodPost, "/oauth2/login", strings.NewReader(`{"email":"not-an-email"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity && w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want a validation failure status", w.Code)
	}
}
