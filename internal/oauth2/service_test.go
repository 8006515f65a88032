package oauth2

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/linkbroker/linkbroker/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStores() Stores {
	return Stores{
		Users:         newMemStore[User](),
		Clients:       newMemStore[Client](),
		LoginSessions: newMemStore[LoginSession](),
		AuthCodes:     newMemStore[AuthorizationCode](),
		AccessTokens:  newMemStore[AccessToken](),
		RefreshTokens: newMemStore[RefreshToken](),
	}
}

func newTestService(t *testing.T, stores Stores, cfg Config) *Service {
	t.Helper()
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "test-session-secret-at-least-32-bytes-long"
	}
	svc, err := NewService(stores, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func mustBcrypt(t *testing.T, raw string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func seedConfidentialClient(t *testing.T, stores Stores, secret string) Client {
	t.Helper()
	client := Client{
		ID:           uuid.NewString(),
		Name:         "test-client",
		SecretHash:   mustBcrypt(t, secret),
		RedirectURIs: []string{"https://example.test/callback"},
		Scopes:       []string{"device:read", "device:write"},
		Confidential: true,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := stores.Clients.Add(context.Background(), client); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	return client
}

func seedUser(t *testing.T, stores Stores, email, password string) User {
	t.Helper()
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: mustBcrypt(t, password),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := stores.Users.Add(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user
}

func TestClientCredentials_IssuesTokenWithinGrantedScope(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})

	resp, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected a refresh token for client_credentials grant")
	}

	introspected, err := svc.Introspect(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if !introspected.Active || introspected.ClientID != client.ID || introspected.Scope != "device:read" {
		t.Errorf("introspection result = %+v", introspected)
	}
}

func TestClientCredentials_AcceptsMultiTokenScopeWithinGrant(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})

	resp, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read device:write")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}
	if resp.Scope != "device:read device:write" {
		t.Fatalf("resp.Scope = %q, want both granted scopes", resp.Scope)
	}
}

func TestClientCredentials_RejectsScopeExceedingGrant(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})

	_, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "admin:all")
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("error = %v, want ErrInvalidScope", err)
	}
}

func TestClientCredentials_RejectsBadSecret(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})

	_, err := svc.ClientCredentials(context.Background(), client.ID, "wrong", "device:read")
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("error = %v, want ErrInvalidClient", err)
	}
}

func TestClientCredentials_RejectsPublicClient(t *testing.T) {
	stores := newTestStores()
	client := Client{
		ID:           uuid.NewString(),
		Name:         "public-client",
		RedirectURIs: []string{"https://example.test/callback"},
		Scopes:       []string{"device:read"},
		Confidential: false,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := stores.Clients.Add(context.Background(), client); err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	svc := newTestService(t, stores, Config{})

	_, err := svc.ClientCredentials(context.Background(), client.ID, "", "device:read")
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("error = %v, want ErrInvalidClient", err)
	}
}

func TestIntrospect_UnknownOrExpiredTokenIsInactive(t *testing.T) {
	stores := newTestStores()
	svc := newTestService(t, stores, Config{})

	resp, err := svc.Introspect(context.Background(), "not-a-real-token")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if resp.Active {
		t.Fatal("expected inactive for an unknown token")
	}
}

func TestRevoke_ThenIntrospectIsInactive(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{})

	resp, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}
	if err := svc.Revoke(context.Background(), resp.AccessToken); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	introspected, err := svc.Introspect(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if introspected.Active {
		t.Fatal("expected token to be inactive after revoke")
	}
}

func TestLoginAuthorizeExchange_FullAuthorizationCodeFlow(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	user := seedUser(t, stores, "alice@example.test", "hunter2")
	svc := newTestService(t, stores, Config{})

	sessionToken, err := svc.Login(context.Background(), user.Email, "hunter2", client.ID, client.RedirectURIs[0], "device:read", "xyz-state")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	code, redirectURI, state, err := svc.Authorize(context.Background(), sessionToken)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if redirectURI != client.RedirectURIs[0] || state != "xyz-state" {
		t.Fatalf("redirectURI/state = %q/%q, want %q/%q", redirectURI, state, client.RedirectURIs[0], "xyz-state")
	}

	// A login session is single-use: replaying the same session token must fail.
	if _, _, _, err := svc.Authorize(context.Background(), sessionToken); err == nil {
		t.Fatal("expected second Authorize() with the same session token to fail")
	}

	resp, err := svc.ExchangeAuthorizationCode(context.Background(), client.ID, "s3cret", code, redirectURI)
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	// A code is single-use: replaying it must fail.
	if _, err := svc.ExchangeAuthorizationCode(context.Background(), client.ID, "s3cret", code, redirectURI); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replayed code error = %v, want ErrInvalidGrant", err)
	}

	introspected, err := svc.Introspect(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if introspected.UserID != user.ID {
		t.Errorf("introspected UserID = %q, want %q", introspected.UserID, user.ID)
	}
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	user := seedUser(t, stores, "alice@example.test", "hunter2")
	svc := newTestService(t, stores, Config{})

	_, err := svc.Login(context.Background(), user.Email, "wrong-password", client.ID, client.RedirectURIs[0], "device:read", "state")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestLogin_RejectsScopeExceedingClientGrant(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	user := seedUser(t, stores, "alice@example.test", "hunter2")
	svc := newTestService(t, stores, Config{})

	_, err := svc.Login(context.Background(), user.Email, "hunter2", client.ID, client.RedirectURIs[0], "device:read role:admin", "state")
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("error = %v, want ErrInvalidScope", err)
	}
}

func TestRefresh_RotatesByDefaultAndRevokesOldToken(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{RotateRefreshTokens: true})

	first, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), client.ID, "s3cret", first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.AccessToken == first.AccessToken {
		t.Fatal("expected a new access token on refresh")
	}
	if refreshed.RefreshToken == "" || refreshed.RefreshToken == first.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	// The original access token must no longer introspect as active.
	introspected, err := svc.Introspect(context.Background(), first.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if introspected.Active {
		t.Fatal("expected original access token to be revoked after refresh")
	}

	// The original refresh token must not be usable a second time.
	if _, err := svc.Refresh(context.Background(), client.ID, "s3cret", first.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replayed refresh token error = %v, want ErrInvalidGrant", err)
	}
}

func TestDeleteUser_CascadesToOwnedClientsAndTokens(t *testing.T) {
	stores := newTestStores()
	user := seedUser(t, stores, "alice@example.test", "hunter2")
	owned := seedConfidentialClient(t, stores, "s3cret")
	owned.OwnerUserID = user.ID
	if _, err := stores.Clients.Update(context.Background(), owned.ID, owned); err != nil {
		t.Fatalf("updating client owner: %v", err)
	}
	other := seedConfidentialClient(t, stores, "s3cret2")

	svc := newTestService(t, stores, Config{})
	resp, err := svc.ClientCredentials(context.Background(), owned.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}

	if err := svc.DeleteUser(context.Background(), user.ID); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	if _, err := stores.Users.Get(context.Background(), user.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("user still present after DeleteUser, error = %v", err)
	}
	if _, err := stores.Clients.Get(context.Background(), owned.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("owned client still present after DeleteUser, error = %v", err)
	}
	if _, err := stores.Clients.Get(context.Background(), other.ID); err != nil {
		t.Fatalf("unrelated client was deleted: %v", err)
	}

	introspected, err := svc.Introspect(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if introspected.Active {
		t.Fatal("expected owned client's access token to be inactive after DeleteUser")
	}
}

func TestRefresh_NonRotatingKeepsSameRefreshToken(t *testing.T) {
	stores := newTestStores()
	client := seedConfidentialClient(t, stores, "s3cret")
	svc := newTestService(t, stores, Config{RotateRefreshTokens: false})

	first, err := svc.ClientCredentials(context.Background(), client.ID, "s3cret", "device:read")
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), client.ID, "s3cret", first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken != "" {
		t.Fatal("non-rotating refresh should not return a new refresh token")
	}
	if refreshed.AccessToken == first.AccessToken {
		t.Fatal("expected a new access token")
	}

	// The refresh token itself must still be usable again (not rotated).
	if _, err := svc.Refresh(context.Background(), client.ID, "s3cret", first.RefreshToken); err != nil {
		t.Fatalf("reusing non-rotated refresh token failed: %v", err)
	}
}
