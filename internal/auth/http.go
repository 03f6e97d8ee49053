// ABOUTME: HTTP middleware resolving API keys to tenants and gating admin routes on JWTs
// ABOUTME: Rejections use the gateway's {status, message} JSON envelope

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/tenant"
)

// KeyResolver maps an API key to its tenant.
type KeyResolver interface {
	GetTenantByAPIKey(ctx context.Context, key string) (string, error)
}

const missingKeyMessage = "API key missing or invalid. Use the X-API-Key header, " +
	"Authorization: Bearer <key>, or ?api_key=<key> in the URL (for opening the QR page in a browser)."

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": false, "message": msg})
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// extractAPIKey reads the key from X-API-Key, then Bearer, then ?api_key.
// fromQuery reports whether the query parameter supplied it.
func extractAPIKey(r *http.Request) (key string, fromQuery bool) {
	if key = strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, false
	}
	if key = bearerToken(r); key != "" {
		return key, false
	}
	key = strings.TrimSpace(r.URL.Query().Get("api_key"))
	return key, key != ""
}

// APIKeyMiddleware resolves the request's API key to a tenant and stores it
// in the context. Unknown or missing keys get 401; store failures get 500.
func APIKeyMiddleware(keys KeyResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, fromQuery := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, missingKeyMessage)
				return
			}

			tid, err := keys.GetTenantByAPIKey(r.Context(), key)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, missingKeyMessage)
					return
				}
				logger.Error("resolving API key", "error", err)
				writeError(w, http.StatusInternalServerError, "could not verify API key")
				return
			}

			id := &Identity{Tenant: tenant.NormalizeID(tid)}
			if fromQuery {
				id.QueryKey = key
			}
			ctx := tenant.WithTenant(WithIdentity(r.Context(), id), id.Tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware requires a valid bearer JWT with the admin scope.
func AdminMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := verifier.Verify(token)
			switch {
			case errors.Is(err, ErrExpiredToken):
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if claims.Scope != ScopeAdmin {
				writeError(w, http.StatusForbidden, "admin scope required")
				return
			}

			id := &Identity{Subject: claims.Subject, Admin: true}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
