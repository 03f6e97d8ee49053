// ABOUTME: Admin HTTP handlers for API key management
// ABOUTME: Mounted under /admin behind an admin-scoped JWT

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/tenant"
)

// CreateAPIKeyRequest is the JSON body for POST /admin/api-keys.
type CreateAPIKeyRequest struct {
	Tenant string `json:"tenantId"`
}

// APIKeyResponse describes one API key.
type APIKeyResponse struct {
	Key       string `json:"apiKey"`
	Tenant    string `json:"tenantId"`
	CreatedAt string `json:"createdAt"`
}

func toAPIKeyResponse(k *store.APIKey) APIKeyResponse {
	return APIKeyResponse{Key: k.Key, Tenant: k.Tenant, CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339)}
}

// handleListAPIKeys handles GET /admin/api-keys.
func (g *Gateway) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := g.store.ListAPIKeys(r.Context())
	if err != nil {
		g.logger.Error("listing API keys", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list API keys")
		return
	}
	out := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAPIKeyResponse(k))
	}
	g.sendSuccess(w, map[string]any{"keys": out, "total": len(out)}, "API keys")
}

// handleCreateAPIKey handles POST /admin/api-keys. A tenant that already has
// a key gets the existing one back.
func (g *Gateway) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Tenant == "" {
		g.sendJSONError(w, http.StatusBadRequest, "tenantId is required")
		return
	}

	key, err := g.store.CreateAPIKey(r.Context(), tenant.NormalizeID(req.Tenant))
	if err != nil {
		g.logger.Error("creating API key", "tenant", req.Tenant, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create API key")
		return
	}

	actor := ""
	if id := auth.FromContext(r.Context()); id != nil {
		actor = id.Subject
	}
	g.logger.Info("API key issued", "tenant", key.Tenant, "by", actor)
	g.sendSuccess(w, toAPIKeyResponse(key), "API key ready")
}

// handleDeleteAPIKey handles DELETE /admin/api-keys/{tenant}.
func (g *Gateway) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	tid := tenant.NormalizeID(r.PathValue("tenant"))
	err := g.store.DeleteAPIKey(r.Context(), tid)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "tenant has no API key")
		return
	case err != nil:
		g.logger.Error("deleting API key", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to delete API key")
		return
	}
	g.logger.Info("API key revoked", "tenant", tid)
	g.sendSuccess(w, nil, "API key deleted")
}
