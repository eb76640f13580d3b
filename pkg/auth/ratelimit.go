package auth

import (
	"net/http"

	"github.com/Mindburn-Labs/vault/pkg/api"
)

// ActorKey keys rate limits by the authenticated principal, falling back to
// the remote IP for anonymous requests.
func ActorKey(r *http.Request) string {
	if p, err := PrincipalFrom(r.Context()); err == nil {
		return "principal:" + p.ID
	}
	return "ip:" + api.RemoteIP(r)
}

// RateLimitMiddleware enforces per-actor rate limiting. It must run after
// NewMiddleware so principals are in the context. A nil limiter disables it.
func RateLimitMiddleware(limiter *api.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return limiter.Middleware(ActorKey)(next)
	}
}
