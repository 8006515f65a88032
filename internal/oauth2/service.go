package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
)

// Errors returned by the grant flows, mapped to RFC 6749 §5.2 error codes
// by the handler.
var (
	ErrInvalidClient  = errors.New("oauth2: invalid client")
	ErrInvalidGrant   = errors.New("oauth2: invalid grant")
	ErrInvalidScope   = errors.New("oauth2: invalid scope")
	ErrUnauthorized   = errors.New("oauth2: unauthorized")
	ErrUnsupported    = errors.New("oauth2: unsupported grant type")
)

const (
	loginSessionTTL = 10 * time.Minute
	authCodeTTL     = 5 * time.Minute
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// Config controls the OAuth2 Authority's token lifetimes and rotation
// policy.
type Config struct {
	SessionSecret         string
	RotateRefreshTokens   bool
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
}

// Service implements the OAuth2 Authority's authorization-code,
// client-credentials, and refresh grants plus token introspection.
type Service struct {
	stores Stores
	signer *loginSessionSigner
	cfg    Config
	logger *slog.Logger
}

// NewService creates an OAuth2 Authority Service.
func NewService(stores Stores, cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = accessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = refreshTokenTTL
	}
	signer, err := newLoginSessionSigner(cfg.SessionSecret, loginSessionTTL)
	if err != nil {
		return nil, err
	}
	return &Service{stores: stores, signer: signer, cfg: cfg, logger: logger}, nil
}

// Login verifies a user's email/password, mints a single-use LoginSession
// row, and signs a JWT carrying its ID so the browser can carry the
// session into the consent step without a cookie store.
func (s *Service) Login(ctx context.Context, email, password, clientID, redirectURI, scope, state string) (string, error) {
	client, err := s.stores.Clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown client", ErrInvalidClient)
		}
		return "", fmt.Errorf("looking up client: %w", err)
	}
	if !redirectURIAllowed(client.RedirectURIs, redirectURI) {
		return "", fmt.Errorf("%w: redirect_uri not registered", ErrInvalidClient)
	}
	if !scopeSubsetOf(scope, client.Scopes) {
		return "", fmt.Errorf("%w: requested scope exceeds client grant", ErrInvalidScope)
	}

	page, err := s.stores.Users.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("email", email), Limit: 1})
	if err != nil {
		return "", fmt.Errorf("looking up user: %w", err)
	}
	if len(page.Items) == 0 {
		return "", fmt.Errorf("%w: bad credentials", ErrUnauthorized)
	}
	user := page.Items[0]
	if user.Disabled {
		return "", fmt.Errorf("%w: account disabled", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("%w: bad credentials", ErrUnauthorized)
	}

	now := time.Now().UTC()
	session := LoginSession{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		ClientID:    clientID,
		Scope:       scope,
		RedirectURI: redirectURI,
		State:       state,
		ExpiresAt:   now.Add(loginSessionTTL),
		CreatedAt:   now,
	}
	created, err := s.stores.LoginSessions.Add(ctx, session)
	if err != nil {
		return "", fmt.Errorf("creating login session: %w", err)
	}

	token, err := s.signer.issue(loginClaims{SessionID: created.ID, UserID: user.ID, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("issuing login session token: %w", err)
	}
	return token, nil
}

// Authorize consumes a login-session token (single-use: the DB row is
// deleted whether or not the JWT has further lifetime) and issues an
// AuthorizationCode the client exchanges at the token endpoint.
func (s *Service) Authorize(ctx context.Context, sessionToken string) (code string, redirectURI string, state string, err error) {
	claims, err := s.signer.validate(sessionToken)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	session, err := s.stores.LoginSessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", "", fmt.Errorf("%w: login session already consumed or expired", ErrInvalidGrant)
		}
		return "", "", "", fmt.Errorf("looking up login session: %w", err)
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.stores.LoginSessions.Del(ctx, session.ID)
		return "", "", "", fmt.Errorf("%w: login session expired", ErrInvalidGrant)
	}

	raw, hash, _ := generateOpaqueToken("oac")
	now := time.Now().UTC()
	ac := AuthorizationCode{
		ID:          uuid.NewString(),
		CodeHash:    hash,
		ClientID:    session.ClientID,
		UserID:      session.UserID,
		Scope:       session.Scope,
		RedirectURI: session.RedirectURI,
		ExpiresAt:   now.Add(authCodeTTL),
		CreatedAt:   now,
	}
	if _, err := s.stores.AuthCodes.Add(ctx, ac); err != nil {
		return "", "", "", fmt.Errorf("creating authorization code: %w", err)
	}

	// Consuming the login session here, not at token exchange, matches
	// RFC 6749's intent that the login step itself is single-use.
	if err := s.stores.LoginSessions.Del(ctx, session.ID); err != nil {
		s.logger.Warn("deleting consumed login session failed", "id", session.ID, "error", err)
	}

	return raw, session.RedirectURI, session.State, nil
}

// ExchangeAuthorizationCode implements the authorization_code grant.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	hash := hashToken(code)
	page, err := s.stores.AuthCodes.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("code_hash", hash), Limit: 1})
	if err != nil {
		return TokenResponse{}, fmt.Errorf("looking up authorization code: %w", err)
	}
	if len(page.Items) == 0 {
		return TokenResponse{}, fmt.Errorf("%w: unknown authorization code", ErrInvalidGrant)
	}
	ac := page.Items[0]
	if ac.ClientID != client.ID || ac.RedirectURI != redirectURI {
		return TokenResponse{}, fmt.Errorf("%w: client or redirect_uri mismatch", ErrInvalidGrant)
	}
	if time.Now().UTC().After(ac.ExpiresAt) {
		_ = s.stores.AuthCodes.Del(ctx, ac.ID)
		return TokenResponse{}, fmt.Errorf("%w: authorization code expired", ErrInvalidGrant)
	}
	// Single use: delete before minting tokens so a replayed code never
	// succeeds twice, even under a racing duplicate request.
	if err := s.stores.AuthCodes.Del(ctx, ac.ID); err != nil {
		return TokenResponse{}, fmt.Errorf("consuming authorization code: %w", err)
	}

	userID := ac.UserID
	return s.issueTokenPair(ctx, "authorization_code", client.ID, &userID, ac.Scope)
}

// ClientCredentials implements the client_credentials grant for
// service-to-service callers with no user in the loop.
func (s *Service) ClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResponse{}, err
	}
	if !client.Confidential {
		return TokenResponse{}, fmt.Errorf("%w: public clients cannot use client_credentials", ErrInvalidClient)
	}
	if !scopeSubsetOf(scope, client.Scopes) {
		return TokenResponse{}, fmt.Errorf("%w: requested scope exceeds client grant", ErrInvalidScope)
	}
	return s.issueTokenPair(ctx, "client_credentials", client.ID, nil, scope)
}

// Refresh implements the refresh_token grant, rotating the refresh token
// when Config.RotateRefreshTokens is set.
func (s *Service) Refresh(ctx context.Context, clientID, clientSecret, rawRefreshToken string) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	hash := hashToken(rawRefreshToken)
	page, err := s.stores.RefreshTokens.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("token_hash", hash), Limit: 1})
	if err != nil {
		return TokenResponse{}, fmt.Errorf("looking up refresh token: %w", err)
	}
	if len(page.Items) == 0 {
		return TokenResponse{}, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
	}
	rt := page.Items[0]
	if rt.Revoked || rt.ClientID != client.ID {
		return TokenResponse{}, fmt.Errorf("%w: refresh token revoked or client mismatch", ErrInvalidGrant)
	}
	if time.Now().UTC().After(rt.ExpiresAt) {
		return TokenResponse{}, fmt.Errorf("%w: refresh token expired", ErrInvalidGrant)
	}

	// Revoke the access token this refresh token was minted alongside;
	// the caller must use the new access token returned below.
	if at, err := s.stores.AccessTokens.Get(ctx, rt.AccessTokenID); err == nil {
		at.Revoked = true
		if _, err := s.stores.AccessTokens.Update(ctx, at.ID, at); err != nil {
			s.logger.Warn("revoking superseded access token failed", "id", at.ID, "error", err)
		}
	}

	if s.cfg.RotateRefreshTokens {
		rt.Revoked = true
		if _, err := s.stores.RefreshTokens.Update(ctx, rt.ID, rt); err != nil {
			return TokenResponse{}, fmt.Errorf("revoking rotated refresh token: %w", err)
		}
		return s.issueTokenPair(ctx, "refresh_token", client.ID, rt.UserID, rt.Scope)
	}

	return s.issueAccessTokenOnly(ctx, client.ID, rt.UserID, rt.Scope, rt.ID)
}

// Introspect implements RFC 7662 token introspection: the Access Gate
// calls this for every inbound bearer token instead of validating a JWT
// locally, since tokens here are opaque and revocable.
func (s *Service) Introspect(ctx context.Context, rawToken string) (IntrospectResponse, error) {
	hash := hashToken(rawToken)
	page, err := s.stores.AccessTokens.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("token_hash", hash), Limit: 1})
	if err != nil {
		return IntrospectResponse{}, fmt.Errorf("looking up access token: %w", err)
	}
	if len(page.Items) == 0 {
		return IntrospectResponse{Active: false}, nil
	}
	at := page.Items[0]
	if at.Revoked || time.Now().UTC().After(at.ExpiresAt) {
		return IntrospectResponse{Active: false}, nil
	}

	resp := IntrospectResponse{
		Active:    true,
		Scope:     at.Scope,
		ClientID:  at.ClientID,
		ExpiresAt: at.ExpiresAt.Unix(),
	}
	if at.UserID != nil {
		resp.UserID = *at.UserID
	}
	return resp, nil
}

// Revoke invalidates an access token, e.g. on user-initiated logout.
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	hash := hashToken(rawToken)
	page, err := s.stores.AccessTokens.List(ctx, storage.ListOptions{Conditions: storage.NewConditions().Eq("token_hash", hash), Limit: 1})
	if err != nil {
		return fmt.Errorf("looking up access token: %w", err)
	}
	if len(page.Items) == 0 {
		return nil
	}
	at := page.Items[0]
	at.Revoked = true
	if _, err := s.stores.AccessTokens.Update(ctx, at.ID, at); err != nil {
		return fmt.Errorf("revoking access token: %w", err)
	}
	return nil
}

func (s *Service) issueTokenPair(ctx context.Context, grantType, clientID string, userID *string, scope string) (TokenResponse, error) {
	now := time.Now().UTC()
	rawAccess, accessHash, _ := generateOpaqueToken("oat")
	access := AccessToken{
		ID:        uuid.NewString(),
		TokenHash: accessHash,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		CreatedAt: now,
	}
	createdAccess, err := s.stores.AccessTokens.Add(ctx, access)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("creating access token: %w", err)
	}

	rawRefresh, refreshHash, _ := generateOpaqueToken("ort")
	refresh := RefreshToken{
		ID:            uuid.NewString(),
		TokenHash:     refreshHash,
		AccessTokenID: createdAccess.ID,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		ExpiresAt:     now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:     now,
	}
	if _, err := s.stores.RefreshTokens.Add(ctx, refresh); err != nil {
		return TokenResponse{}, fmt.Errorf("creating refresh token: %w", err)
	}

	telemetry.OAuth2TokensIssuedTotal.WithLabelValues(grantType, "access").Inc()
	telemetry.OAuth2TokensIssuedTotal.WithLabelValues(grantType, "refresh").Inc()

	return TokenResponse{
		AccessToken:  rawAccess,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		RefreshToken: rawRefresh,
		Scope:        scope,
	}, nil
}

func (s *Service) issueAccessTokenOnly(ctx context.Context, clientID string, userID *string, scope string, refreshTokenID string) (TokenResponse, error) {
	now := time.Now().UTC()
	rawAccess, accessHash, _ := generateOpaqueToken("oat")
	access := AccessToken{
		ID:        uuid.NewString(),
		TokenHash: accessHash,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		CreatedAt: now,
	}
	createdAccess, err := s.stores.AccessTokens.Add(ctx, access)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("creating access token: %w", err)
	}

	if rt, err := s.stores.RefreshTokens.Get(ctx, refreshTokenID); err == nil {
		rt.AccessTokenID = createdAccess.ID
		if _, err := s.stores.RefreshTokens.Update(ctx, rt.ID, rt); err != nil {
			s.logger.Warn("relinking refresh token to new access token failed", "id", rt.ID, "error", err)
		}
	}

	telemetry.OAuth2TokensIssuedTotal.WithLabelValues("refresh_token", "access").Inc()

	return TokenResponse{
		AccessToken: rawAccess,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}, nil
}

// DeleteUser removes a user and every Client it owns, plus that client's
// live tokens, mirroring the Routing Engine's unit cascade delete.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	ownedCond := storage.NewConditions().Eq("owner_user_id", userID)
	clientsPage, err := s.stores.Clients.List(ctx, storage.ListOptions{Conditions: ownedCond})
	if err != nil {
		return fmt.Errorf("listing clients owned by user %s: %w", userID, err)
	}

	for _, client := range clientsPage.Items {
		clientCond := storage.NewConditions().Eq("client_id", client.ID)
		if _, err := s.stores.AccessTokens.DelWhere(ctx, clientCond); err != nil {
			return fmt.Errorf("deleting access tokens for client %s: %w", client.ID, err)
		}
		if _, err := s.stores.RefreshTokens.DelWhere(ctx, clientCond); err != nil {
			return fmt.Errorf("deleting refresh tokens for client %s: %w", client.ID, err)
		}
		if _, err := s.stores.AuthCodes.DelWhere(ctx, clientCond); err != nil {
			return fmt.Errorf("deleting authorization codes for client %s: %w", client.ID, err)
		}
	}
	if _, err := s.stores.Clients.DelWhere(ctx, ownedCond); err != nil {
		return fmt.Errorf("deleting clients owned by user %s: %w", userID, err)
	}

	userCond := storage.NewConditions().Eq("user_id", userID)
	if _, err := s.stores.AccessTokens.DelWhere(ctx, userCond); err != nil {
		return fmt.Errorf("deleting access tokens for user %s: %w", userID, err)
	}
	if _, err := s.stores.RefreshTokens.DelWhere(ctx, userCond); err != nil {
		return fmt.Errorf("deleting refresh tokens for user %s: %w", userID, err)
	}
	if _, err := s.stores.LoginSessions.DelWhere(ctx, userCond); err != nil {
		return fmt.Errorf("deleting login sessions for user %s: %w", userID, err)
	}

	if err := s.stores.Users.Del(ctx, userID); err != nil {
		return fmt.Errorf("deleting user %s: %w", userID, err)
	}
	return nil
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (Client, error) {
	client, err := s.stores.Clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Client{}, fmt.Errorf("%w: unknown client", ErrInvalidClient)
		}
		return Client{}, fmt.Errorf("looking up client: %w", err)
	}
	if client.Confidential {
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
			return Client{}, fmt.Errorf("%w: bad client secret", ErrInvalidClient)
		}
	}
	return client, nil
}

func redirectURIAllowed(registered []string, candidate string) bool {
	for _, u := range registered {
		if u == candidate {
			return true
		}
	}
	return false
}

// scopeSubsetOf reports whether every space-delimited token in requested is
// present in granted.
func scopeSubsetOf(requested string, granted []string) bool {
	if requested == "" {
		return true
	}
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	for _, tok := range strings.Fields(requested) {
		if _, ok := grantedSet[tok]; !ok {
			return false
		}
	}
	return true
}
