package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// GenerateDevSecret generates a random 32-byte hex-encoded secret for dev
// mode, matching auth.GenerateDevSecret's shape.
func GenerateDevSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// generateOpaqueToken creates a random bearer credential with the given
// prefix, its SHA-256 hash for storage, and a short display prefix, the
// same shape as the teacher's apikey.generateAPIKey.
func generateOpaqueToken(prefix string) (raw, hash, display string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("%s_%x", prefix, b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	display = raw[:len(prefix)+1+8]
	return
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// loginClaims are the claims embedded in a login-session JWT. The JWT's
// jti mirrors the LoginSession row's ID: the row is the single-use
// record, the JWT is the bearer credential a client carries between the
// login and consent steps.
type loginClaims struct {
	SessionID string `json:"jti"`
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id"`
}

// loginSessionSigner issues and validates login-session JWTs using
// HMAC-SHA256, grounded on auth.SessionManager's IssueToken/ValidateToken
// shape.
type loginSessionSigner struct {
	signingKey []byte
	maxAge     time.Duration
}

func newLoginSessionSigner(secret string, maxAge time.Duration) (*loginSessionSigner, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("oauth2 session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &loginSessionSigner{signingKey: []byte(secret), maxAge: maxAge}, nil
}

func (s *loginSessionSigner) issue(claims loginClaims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: s.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		ID:       claims.SessionID,
		Subject:  claims.UserID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(s.maxAge)),
		Issuer:   "linkbroker-oauth2",
	}

	token, err := jwt.Signed(signer).Claims(registered).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

func (s *loginSessionSigner) validate(raw string) (*loginClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom loginClaims
	if err := tok.Claims(s.signingKey, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: "linkbroker-oauth2",
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}
