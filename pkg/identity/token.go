package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "vault.local/identity"
	DefaultAudience = "vault.api"

	// RoleOperator marks a token allowed to call the HTTP API at all.
	// Owner and admin authority is still decided by the engine's registry.
	RoleOperator = "operator"
)

var (
	ErrEmptySubject = errors.New("identity: token subject is required")
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Claims are the vault token claims. The subject is the caller identity the
// engine checks against its owner and admin sets.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the token carries role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// TokenManager mints and validates caller tokens.
type TokenManager struct {
	keySet   KeySet
	issuer   string
	audience string
	now      func() time.Time
}

type TokenOption func(*TokenManager)

func WithIssuer(iss string) TokenOption {
	return func(tm *TokenManager) {
		if iss != "" {
			tm.issuer = iss
		}
	}
}

func WithAudience(aud string) TokenOption {
	return func(tm *TokenManager) {
		if aud != "" {
			tm.audience = aud
		}
	}
}

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

func NewTokenManager(ks KeySet, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{
		keySet:   ks,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Issue creates a signed token for subject valid for ttl.
func (tm *TokenManager) Issue(ctx context.Context, subject string, roles []string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		return "", fmt.Errorf("identity: ttl must be positive, got %s", ttl)
	}
	now := tm.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
		},
		Roles: roles,
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses a token and checks signature, issuer, audience and expiry.
func (tm *TokenManager) Validate(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, tm.keySet.KeyFunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrEmptySubject
	}
	return claims, nil
}
