package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Claims is the payload carried by both credential classes. Access tokens
// embed the permission snapshot; refresh tokens carry a nonce instead so two
// refreshes minted in the same second never collide on hash.
type Claims struct {
	UserID         string     `json:"userId"`
	TenantID       string     `json:"tenantId"`
	RoleIDs        []string   `json:"roleIds"`
	PermissionKeys []string   `json:"permissionKeys,omitempty"`
	SystemRole     SystemRole `json:"systemRole"`
	TokenType      string     `json:"type"`
	Nonce          string     `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the embedded snapshot contains key.
func (c *Claims) HasPermission(key string) bool {
	for _, k := range c.PermissionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Signer issues and verifies the two credential classes using HS256 with
// separate secrets, bound to one issuer/audience pair.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// SignerOption configures Signer behavior.
type SignerOption func(*Signer)

// WithAccessTTL configures access credential lifetime.
func WithAccessTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh credential lifetime.
func WithRefreshTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithSignerClock overrides the time source (useful for tests).
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner constructs a Signer. Both secrets, the issuer and the audience
// are required; the access and refresh secrets must differ so a refresh
// credential can never pass access verification even if the type claim were
// forged.
func NewSigner(accessSecret, refreshSecret, issuer, audience string, opts ...SignerOption) (*Signer, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("auth: signing secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if strings.TrimSpace(issuer) == "" || strings.TrimSpace(audience) == "" {
		return nil, errors.New("auth: issuer and audience are required")
	}
	s := &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access credential lifetime.
func (s *Signer) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh credential lifetime.
func (s *Signer) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccess mints a short-lived access credential embedding the permission
// snapshot.
func (s *Signer) SignAccess(userID, tenantID string, roleIDs, permissionKeys []string, systemRole SystemRole) (string, time.Time, error) {
	return s.sign(tokenTypeAccess, s.accessSecret, s.accessTTL, Claims{
		UserID:         userID,
		TenantID:       tenantID,
		RoleIDs:        roleIDs,
		PermissionKeys: permissionKeys,
		SystemRole:     systemRole,
	})
}

// SignRefresh mints a long-lived refresh credential with a random nonce.
func (s *Signer) SignRefresh(userID, tenantID string, roleIDs []string, systemRole SystemRole) (string, time.Time, error) {
	return s.sign(tokenTypeRefresh, s.refreshSecret, s.refreshTTL, Claims{
		UserID:     userID,
		TenantID:   tenantID,
		RoleIDs:    roleIDs,
		SystemRole: systemRole,
		Nonce:      uuid.NewString(),
	})
}

func (s *Signer) sign(tokenType string, secret []byte, ttl time.Duration, claims Claims) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims.TokenType = tokenType
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess checks signature, issuer, audience, expiry and credential type.
// Every failure collapses to ErrInvalidToken so callers cannot probe which
// check rejected the token.
func (s *Signer) VerifyAccess(token string) (*Claims, error) {
	claims, err := s.verify(token, s.accessSecret, tokenTypeAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh is VerifyAccess for the refresh class; failures collapse to
// ErrRefreshInvalid.
func (s *Signer) VerifyRefresh(token string) (*Claims, error) {
	claims, err := s.verify(token, s.refreshSecret, tokenTypeRefresh)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	return claims, nil
}

func (s *Signer) verify(token string, secret []byte, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a signed token. Refresh records are
// keyed by this hash; the raw value is never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
