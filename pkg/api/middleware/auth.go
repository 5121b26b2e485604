// Package middleware provides HTTP middleware for the operational API.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Verifier validates a bearer token and yields the authenticated principal.
type Verifier interface {
	Verify(token string) (principal string, err error)
}

// Context key type for storing the principal.
type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext retrieves the authenticated principal from the
// request context. Empty when the route ran without the Bearer middleware.
func PrincipalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(principalContextKey).(string)
	return principal
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Bearer validates Authorization bearer tokens and stores the principal in
// the request context. Missing or invalid tokens get 401 Unauthorized.
func Bearer(verify Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			principal, err := verify.Verify(token)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
