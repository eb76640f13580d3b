package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/identity"
)

var ErrNoPrincipal = errors.New("auth: no principal in request context")

// Principal is the authenticated caller of a request. ID is the identity the
// engine checks against the owner and admin registry.
type Principal struct {
	ID        string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// principalFromClaims builds the Principal for a validated token.
func principalFromClaims(c *identity.Claims) Principal {
	p := Principal{ID: c.Subject, Roles: c.Roles, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// LogValue keeps token expiry and roles out of log lines.
func (p Principal) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", p.ID), slog.String("jti", p.TokenID))
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the request's principal, or ErrNoPrincipal for
// anonymous requests.
func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.ID == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// Caller resolves the engine caller id for a request. It has the shape of
// api.CallerFunc.
func Caller(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
