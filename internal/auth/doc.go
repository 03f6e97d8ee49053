// Package auth authenticates HTTP callers of wa-gateway.
//
// # Tenant API keys
//
// Every /api route requires an API key, read from the X-API-Key header, an
// "Authorization: Bearer" header, or the api_key query parameter (in that
// order). The key resolves to exactly one tenant, which is attached to the
// request context with tenant.WithTenant. The query form exists so a
// pairing QR page can be opened directly in a browser.
//
// # Admin tokens
//
// API key management under /admin uses HS256 JWTs signed with the
// configured jwt_secret and carrying the "admin" scope. Tokens are minted
// by the CLI (wa-gateway admin-token).
package auth
