package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/vault/pkg/api"
	"github.com/Mindburn-Labs/vault/pkg/identity"
)

// publicPaths skip authentication. Probes must work without a token.
var publicPaths = map[string]bool{
	"/health": true,
	"/readyz": true,
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Missing Authorization header"
	}
	scheme, raw, ok := strings.Cut(header, " ")
	raw = strings.TrimSpace(raw)
	if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
		return "", "Invalid Authorization header format (expected 'Bearer <token>')"
	}
	return raw, ""
}

// NewMiddleware authenticates API requests with vault JWTs. The token must
// carry identity.RoleOperator; its subject becomes the request Principal and
// therefore the engine caller. A nil token manager rejects every protected
// request.
func NewMiddleware(tokens *identity.TokenManager) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			raw, problem := bearerToken(r)
			if problem != "" {
				api.WriteUnauthorized(w, problem)
				return
			}
			if tokens == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected",
					"request_id", GetRequestID(r.Context()), "path", r.URL.Path, "error", err)
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			p := principalFromClaims(claims)
			if !p.HasRole(identity.RoleOperator) {
				logger.WarnContext(r.Context(), "token lacks operator role",
					"request_id", GetRequestID(r.Context()), "principal", p)
				api.WriteForbidden(w, "Token lacks the operator role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
