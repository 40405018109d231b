// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// TenantIDKey is the context key for tenant ID.
	TenantIDKey ContextKey = "tenant_id"
	// ScopesKey is the context key for JWT scopes.
	ScopesKey ContextKey = "scopes"
	// AreasKey is the context key for the operator's assigned areas.
	AreasKey ContextKey = "areas"
)

// Scopes granted to service callers.
const (
	// ScopeResolve allows trusted conversation resolves.
	ScopeResolve = "conversations:resolve"
	// ScopeWebhook allows posting inbound WhatsApp webhooks.
	ScopeWebhook = "webhooks:whatsapp"
)

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scope"`
	Areas    []string `json:"areas"`
}

// Auth creates JWT authentication middleware. Browsers cannot set headers on websocket
// or EventSource requests, so GET requests may carry the token in access_token instead.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := bearerToken(r)
			if tokenString == "" {
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			if err := ValidateTenantID(claims.TenantID); err != nil {
				http.Error(w, `{"error":"invalid token tenant"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)
			ctx = context.WithValue(ctx, AreasKey, claims.Areas)
			recordIdentity(ctx, claims.TenantID, claims.Subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("access_token"); t != "" && r.Method == http.MethodGet {
			return t, ""
		}
		return "", `{"error":"missing authorization header"}`
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", `{"error":"invalid authorization header format"}`
	}
	return parts[1], ""
}

func fromContext[T any](ctx context.Context, key ContextKey) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// GetUserID returns the token subject.
func GetUserID(ctx context.Context) string { return fromContext[string](ctx, UserIDKey) }

// GetTenantID returns the tenant the token was issued for.
func GetTenantID(ctx context.Context) string { return fromContext[string](ctx, TenantIDKey) }

// GetScopes returns the token scopes.
func GetScopes(ctx context.Context) []string { return fromContext[[]string](ctx, ScopesKey) }

// GetAreas returns the operator's assigned areas.
func GetAreas(ctx context.Context) []string { return fromContext[[]string](ctx, AreasKey) }

// HasScope reports whether the token carries scope.
func HasScope(ctx context.Context, scope string) bool {
	return slices.Contains(GetScopes(ctx), scope)
}

// RequireScope creates middleware that requires a specific scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
