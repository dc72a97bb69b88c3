// Package middleware provides HTTP middleware for Vizboard.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vizboardhq/vizboard/internal/api/respond"
	"github.com/vizboardhq/vizboard/internal/auth"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// RequireAuth validates the Bearer JWT in the Authorization header.
// On success it injects *auth.Claims into the request context.
// On failure it writes a 401 error envelope.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := auth.ParseAccessToken(token, secret)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "access token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth injects claims when a valid JWT is present and otherwise
// passes the request through anonymously. Used by the public dashboard-view
// endpoint, where the visibility resolver decides what anonymity means.
func OptionalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if claims, err := auth.ParseAccessToken(token, secret); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext extracts Claims from the request context.
// Returns nil if not present.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	v := ctx.Value(claimsKey)
	if v == nil {
		return nil
	}
	c, _ := v.(*auth.Claims)
	return c
}

// BearerToken extracts the raw bearer token from the Authorization header,
// or "" when absent. External viewer sessions travel in the same header and
// are resolved by the view handler, not here.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// KeyedLimiter is the slice of the rate limiter the middleware needs.
type KeyedLimiter interface {
	Allow(namespace, identifier string, limit int) (bool, time.Duration)
}

// RateLimitByIP throttles requests per client IP under the given namespace.
// A limiter that cannot resolve the remote address fails open — rate
// limiting is abuse mitigation, not access control.
func RateLimitByIP(l KeyedLimiter, namespace string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if ip != "" {
				if ok, retryAfter := l.Allow(namespace, ip, limit); !ok {
					respond.RateLimited(w, retryAfter)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the requester's IP, preferring X-Forwarded-For when the
// service runs behind a proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
