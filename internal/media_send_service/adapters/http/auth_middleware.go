package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedCallerContextKey = ContextKey("authenticatedCaller")

// AuthenticatedCaller identifies the service or user behind a request.
type AuthenticatedCaller struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the caller was granted scope.
func (c AuthenticatedCaller) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CallerFromContext returns the caller stored by AuthMiddleware.
func CallerFromContext(ctx context.Context) (AuthenticatedCaller, bool) {
	c, ok := ctx.Value(AuthenticatedCallerContextKey).(AuthenticatedCaller)
	return c, ok
}

// AuthMiddleware accepts HS256 bearer tokens signed with secret.
func AuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				writeError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenString == "" {
				logger.WarnContext(r.Context(), "Unsupported Authorization header", "scheme", scheme)
				writeError(w, "Bearer token required", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			if _, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, jwt.WithValidMethods([]string{"HS256"})); err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				writeError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				logger.WarnContext(r.Context(), "Token has no subject")
				writeError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			caller := AuthenticatedCaller{Subject: subject, Scopes: scopes(claims)}
			ctx := context.WithValue(r.Context(), AuthenticatedCallerContextKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects callers that lack scope. AuthMiddleware must run first.
func RequireScope(scope string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				logger.ErrorContext(r.Context(), "Caller not found in context")
				writeError(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if !caller.HasScope(scope) {
				logger.WarnContext(r.Context(), "Permission denied", "subject", caller.Subject, "required_scope", scope)
				writeError(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// scopes reads the space-separated "scope" claim.
func scopes(claims jwt.MapClaims) []string {
	raw, _ := claims["scope"].(string)
	return strings.Fields(raw)
}
