package middleware

import (
	"context"
	"net/http"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/auth"
)

type contextKeyAuth string

const (
	claimsContextKey contextKeyAuth = "claims"
	apiKeyContextKey contextKeyAuth = "apiKey"
)

// JWTAuth validates Bearer tokens on staff routes and puts the claims into
// the request context. Principals are rate limited on the admin tier.
func JWTAuth(manager *auth.JWTManager, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}

			token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Missing or malformed authorization header", err, env)
				return
			}

			claims, err := manager.Validate(token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid token", err, env)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = WithRateLimitTier(ctx, TierAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Claims returns the validated JWT claims for the request, or nil.
func Claims(r *http.Request) *auth.Claims {
	if r == nil {
		return nil
	}
	if claims, ok := r.Context().Value(claimsContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// RequireRole gates a route to the given roles. It must run after JWTAuth.
func RequireRole(env string, allowed ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := Claims(r)
			if claims == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}
			if !auth.HasRole(claims.Role, allowed...) {
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Insufficient permissions", problem.ErrForbidden, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyAuth authenticates partner ingestion routes with bcrypt-hashed API
// keys and rate limits them on the partner tier.
func APIKeyAuth(store auth.APIKeyStore, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}

			key, err := auth.ValidateAPIKey(r.Context(), store, r.Header.Get("Authorization"))
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid API key", err, env)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			ctx = WithRateLimitTier(ctx, TierPartner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate accepts either a staff JWT or a partner API key. Lead intake
// serves both kinds of caller on one route.
func Authenticate(manager *auth.JWTManager, store auth.APIKeyStore, env string) func(http.Handler) http.Handler {
	jwtAuth := JWTAuth(manager, env)
	keyAuth := APIKeyAuth(store, env)
	return func(next http.Handler) http.Handler {
		jwtNext := jwtAuth(next)
		keyNext := keyAuth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if err == nil && manager != nil {
				if _, err := manager.Validate(token); err == nil {
					jwtNext.ServeHTTP(w, r)
					return
				}
			}
			keyNext.ServeHTTP(w, r)
		})
	}
}

// PartnerKey returns the authenticated API key for the request, or nil.
func PartnerKey(r *http.Request) *auth.APIKey {
	if r == nil {
		return nil
	}
	if key, ok := r.Context().Value(apiKeyContextKey).(*auth.APIKey); ok {
		return key
	}
	return nil
}
