// Package gateway orchestrates the wa-gateway server components.
//
// # Overview
//
// The gateway package wires the tenant-facing HTTP API to the session
// registry, the quota guard, the inbox feed and the credential store. It
// owns the HTTP server and, when configured, the tailscale listener.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config    *config.Config
//	    store     store.Store
//	    sessions  *session.Registry
//	    guard     *quota.Guard
//	    feed      *inbox.Feed
//	    verifier  *auth.JWTVerifier
//	    // ... and more
//	}
//
// # HTTP API
//
// Tenant routes live under /api and require an API key (X-API-Key header,
// Bearer token or ?api_key=). The key selects the tenant.
//
//   - GET /api/status - Connection state and pairing links
//   - GET /api/qr, /api/qr/image, /api/qr/page - Pairing challenge
//   - GET /api/chats, /api/groups, /api/contacts - Directory listings
//   - GET /api/quota/{number} - Today's quota for a recipient
//   - GET /api/inbox - Buffered inbound messages (?consume=1&limit=&from=)
//   - GET /api/inbox/stream - Inbound messages as Server-Sent Events
//   - GET, POST, DELETE /api/whitelist - Webhook sender whitelist
//   - POST /api/logout, /api/reconnect - Session control
//   - POST /api/send-message - Text send
//   - POST /api/send-image, -document, -audio, -video - Multipart media send
//
// Admin routes under /admin require a bearer JWT with the admin scope and
// are only mounted when a JWT secret is configured.
//
//   - GET, POST /admin/api-keys
//   - DELETE /admin/api-keys/{tenant}
//
// Every JSON response uses the envelope {"status", "message", "data"}.
//
// # Send Path
//
// Each send waits for the tenant's connection to be writable, asks the
// quota guard for permission (which may delay sends to unknown
// recipients), delivers, and only then increments the daily counter.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//	gw.Shutdown(shutdownCtx)
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - tailnet.go: optional Tailscale listener
//   - router.go: route table and middleware
//   - api.go: status, pairing, listing, inbox and whitelist handlers
//   - send.go: guarded text and media sends
//   - events.go: inbox SSE stream
//   - admin.go: API key administration
package gateway
