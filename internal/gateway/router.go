// ABOUTME: Route table for the gateway HTTP server
// ABOUTME: Tenant routes sit behind API key auth, admin routes behind an admin JWT

package gateway

import (
	"net/http"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/metrics"
)

// routes builds the gateway's handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", g.handleStatus)
	api.HandleFunc("GET /api/qr", g.handleQR)
	api.HandleFunc("GET /api/qr/image", g.handleQRImage)
	api.HandleFunc("GET /api/qr/page", g.handleQRPage)

	api.HandleFunc("GET /api/chats", g.requireReady(g.handleChats))
	api.HandleFunc("GET /api/groups", g.requireReady(g.handleGroups))
	api.HandleFunc("GET /api/contacts", g.requireReady(g.handleContacts))
	api.HandleFunc("GET /api/quota/{number}", g.requireReady(g.handleQuota))
	api.HandleFunc("GET /api/inbox", g.requireReady(g.handleInbox))
	api.HandleFunc("GET /api/inbox/stream", g.handleInboxStream)

	api.HandleFunc("GET /api/whitelist", g.handleListWhitelist)
	api.HandleFunc("POST /api/whitelist", g.handleAddWhitelist)
	api.HandleFunc("DELETE /api/whitelist", g.handleRemoveWhitelist)

	api.HandleFunc("POST /api/logout", g.handleLogout)
	api.HandleFunc("POST /api/reconnect", g.handleReconnect)

	api.HandleFunc("POST /api/send-message", g.requireReady(g.handleSendMessage))
	api.HandleFunc("POST /api/send-image", g.requireReady(g.mediaHandler(imageUpload)))
	api.HandleFunc("POST /api/send-document", g.requireReady(g.mediaHandler(documentUpload)))
	api.HandleFunc("POST /api/send-audio", g.requireReady(g.mediaHandler(audioUpload)))
	api.HandleFunc("POST /api/send-video", g.requireReady(g.mediaHandler(videoUpload)))

	mux.Handle("/api/", auth.APIKeyMiddleware(g.store, g.logger)(api))

	if g.verifier != nil {
		admin := http.NewServeMux()
		admin.HandleFunc("GET /admin/api-keys", g.handleListAPIKeys)
		admin.HandleFunc("POST /admin/api-keys", g.handleCreateAPIKey)
		admin.HandleFunc("DELETE /admin/api-keys/{tenant}", g.handleDeleteAPIKey)
		mux.Handle("/admin/", auth.AdminMiddleware(g.verifier)(admin))
	} else {
		g.logger.Warn("admin API disabled - no jwt_secret configured")
	}

	if g.config.Metrics.Enabled {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, metrics.Handler())
	}

	return metrics.Middleware(mux)
}
