package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/socials/chat-server/internal/auth"
)

// Middleware is an http.Handler decorator.
type Middleware func(http.Handler) http.Handler

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext extracts the auth claims stored by JWTAuth.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return c, ok
}

// JWTAuth enforces bearer-token authentication and attaches the verified
// claims to the request context.
func JWTAuth(verifier TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
