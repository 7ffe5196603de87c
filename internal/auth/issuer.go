package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"salonora.app/internal/ids"
)

const (
	defaultIssuer     = "salonora"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess = "access"
)

// AccessClaims is the self-contained access token payload. Permissions are a
// snapshot taken at issuance; staleness until the next refresh is a
// documented trade-off.
type AccessClaims struct {
	TenantID    *string  `json:"tid,omitempty"`
	RoleID      string   `json:"rid"`
	Permissions []string `json:"perms"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// IssueMeta carries optional forensic context persisted with the refresh
// token row.
type IssueMeta struct {
	DeviceInfo string
	IPAddress  string
}

// TokenIssuer mints access/refresh pairs. The access token is signed HS256
// and never looked up; the refresh token is an unguessable random value whose
// persisted record is the only thing trusted, so it can be revoked
// server-side.
type TokenIssuer struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	events     EventFunc
}

// IssuerOption configures TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *TokenIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithIssuerEvents injects the audit sink.
func WithIssuerEvents(fn EventFunc) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.events = fn
		}
	}
}

// NewTokenIssuer constructs an issuer. The signing secret is required.
func NewTokenIssuer(store Store, secret []byte, opts ...IssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	i := &TokenIssuer{
		store:      store,
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		events:     nopEvents,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue resolves the user's permission snapshot and mints a fresh pair,
// persisting exactly one new refresh token row.
func (i *TokenIssuer) Issue(ctx context.Context, user *User, meta IssueMeta) (TokenPair, Principal, error) {
	return i.IssueTx(ctx, i.store, user, meta)
}

// IssueTx is Issue bound to the given store, so rotation can mint inside its
// own transaction.
func (i *TokenIssuer) IssueTx(ctx context.Context, s Store, user *User, meta IssueMeta) (TokenPair, Principal, error) {
	if user == nil || user.DeletedAt != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	perms, err := i.resolvePermissions(ctx, s, user)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	principal := NewPrincipal(user.ID, user.TenantID, user.RoleID, perms)

	now := i.now().UTC()
	access, accessExp, err := i.signAccessToken(principal, now)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	refresh, rec, err := i.newRefreshToken(user.ID, now, meta)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.RefreshTokens().Create(ctx, rec); err != nil {
		return TokenPair{}, Principal{}, fmt.Errorf("persist refresh token: %w", err)
	}

	i.events(ctx, "auth.token.issued", map[string]any{
		"user_id":          user.ID,
		"refresh_token_id": rec.ID,
	})
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, principal, nil
}

// Verify checks signature and expiry of an access token and rebuilds the
// principal from the embedded snapshot. No store round-trip is involved.
func (i *TokenIssuer) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return Principal{}, ErrInvalidToken
	}
	if claims.Issuer != i.issuer || strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return NewPrincipal(claims.Subject, claims.TenantID, claims.RoleID, claims.Permissions), nil
}

func (i *TokenIssuer) resolvePermissions(ctx context.Context, s Store, user *User) ([]string, error) {
	var perms []string
	if user.RoleID != "" {
		role, err := s.Roles().Find(ctx, user.RoleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("resolve role: %w", err)
		}
		if role != nil {
			perms = append(perms, role.Permissions...)
		}
	}
	perms = append(perms, user.AdditionalPermissions...)
	return perms, nil
}

func (i *TokenIssuer) signAccessToken(principal Principal, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		TenantID:    principal.TenantID,
		RoleID:      principal.RoleID,
		Permissions: principal.Permissions,
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

func (i *TokenIssuer) newRefreshToken(userID string, now time.Time, meta IssueMeta) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	rec := &RefreshToken{
		ID:         tokenID,
		UserID:     userID,
		TokenHash:  hashRefreshSecret(secret),
		ExpiresAt:  now.Add(i.refreshTTL),
		DeviceInfo: meta.DeviceInfo,
		IPAddress:  meta.IPAddress,
	}
	return tokenID + "." + secret, rec, nil
}

// splitRefreshToken splits the opaque "<id>.<secret>" wire form.
func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidToken
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// secureCompareHash compares the stored hash against the hash of the
// presented secret in constant time.
func secureCompareHash(storedHash, secret string) bool {
	actual := hashRefreshSecret(secret)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
