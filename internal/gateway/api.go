// ABOUTME: HTTP API handlers for tenant status, pairing, listings, whitelist, quota, and inbox
// ABOUTME: Responses use the {status, message, data} envelope

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/session"
	"github.com/2389/wa-gateway/internal/tenant"
)

// qrImageSize is the PNG edge length in pixels.
const qrImageSize = 400

const notReadyMessage = "WhatsApp is not connected. Make sure you use the same API key that scanned the QR code."

// envelope is the success response body.
type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// errorEnvelope is the failure response body.
type errorEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Debug   any    `json:"debug,omitempty"`
}

// StatusResponse is the data of GET /api/status.
type StatusResponse struct {
	TenantID   string  `json:"tenantId"`
	Connected  bool    `json:"connected"`
	Status     string  `json:"status"`
	QRURL      *string `json:"qrUrl"`
	QRImageURL *string `json:"qrImageUrl"`
}

// QRResponse is the data of GET /api/qr.
type QRResponse struct {
	QR    string `json:"qr"`
	QRURL string `json:"qrUrl"`
}

// InboxResponse is the data of GET /api/inbox.
type InboxResponse struct {
	TenantID     string       `json:"tenantId"`
	SourceNumber *string      `json:"sourceNumber"`
	Total        int          `json:"total"`
	Consumed     bool         `json:"consumed"`
	Messages     []inbox.Item `json:"messages"`
	Debug        *inbox.Debug `json:"debug,omitempty"`
}

// WhitelistRequest is the JSON body for POST and DELETE /api/whitelist.
type WhitelistRequest struct {
	Number string `json:"number"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendSuccess writes a 200 envelope.
func (g *Gateway) sendSuccess(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, envelope{Status: true, Message: message, Data: data})
}

// sendJSONError writes a failure envelope.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Status: false, Message: message})
}

// isTruthy accepts the flag spellings query strings and forms use.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// requestTenant returns the tenant resolved by the API key middleware.
func requestTenant(r *http.Request) string {
	return tenant.FromContext(r.Context())
}

// readyHandler handles a request for a tenant whose connection is ready.
type readyHandler func(w http.ResponseWriter, r *http.Request, tid string, conn protocol.Conn)

// requireReady waits for the tenant's connection to become usable and
// answers 503 with connection details when it does not.
func (g *Gateway) requireReady(next readyHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tid := requestTenant(r)
		conn, err := g.sessions.WaitReady(r.Context(), tid)
		if err != nil {
			g.sendNotReady(w, tid, err)
			return
		}
		next(w, r, tid, conn)
	}
}

func (g *Gateway) sendNotReady(w http.ResponseWriter, tid string, err error) {
	var notReady *session.NotReadyError
	if !errors.As(err, &notReady) {
		g.logger.Warn("connection not available", "tenant", tid, "error", err)
		st := g.sessions.Status(tid)
		notReady = &session.NotReadyError{Tenant: st.Tenant, State: st.State}
	}
	writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{
		Status:  false,
		Message: notReadyMessage,
		Debug:   notReady,
	})
}

// ensureConnection starts a connect if needed. Failures are logged; callers
// report whatever state the session is in.
func (g *Gateway) ensureConnection(ctx context.Context, tid string) {
	if err := g.sessions.EnsureConnection(ctx, tid); err != nil {
		g.logger.Warn("ensuring connection", "tenant", tid, "error", err)
	}
}

// link builds an absolute URL under baseURL, carrying the caller's api_key
// when the key arrived in the query string.
func (g *Gateway) link(r *http.Request, path string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if id := auth.FromContext(r.Context()); id != nil && id.QueryKey != "" {
		q.Set("api_key", id.QueryKey)
	}
	u := strings.TrimSuffix(g.baseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the durable store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleStatus handles GET /api/status.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	g.ensureConnection(r.Context(), tid)

	st := g.sessions.Status(tid)
	resp := StatusResponse{
		TenantID:  st.Tenant,
		Connected: st.Connected,
		Status:    string(st.State),
	}
	if st.Challenge != "" {
		qrURL := g.link(r, "/api/qr", nil)
		imageURL := g.link(r, "/api/qr/image", nil)
		resp.QRURL = &qrURL
		resp.QRImageURL = &imageURL
	}
	g.sendSuccess(w, resp, "WhatsApp connection status")
}

// handleQR handles GET /api/qr, returning the raw pairing challenge.
func (g *Gateway) handleQR(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	g.ensureConnection(r.Context(), tid)

	challenge := g.sessions.Challenge(tid)
	if challenge == "" {
		g.sendJSONError(w, http.StatusNotFound,
			"QR not available yet. Wait 2-3 seconds and retry, or call GET /api/status first.")
		return
	}
	g.sendSuccess(w, QRResponse{QR: challenge, QRURL: g.link(r, "/api/qr/image", nil)}, "QR data")
}

// waitChallenge polls for a pairing challenge until qrWait elapses.
func (g *Gateway) waitChallenge(ctx context.Context, tid string) string {
	deadline := time.Now().Add(g.qrWait)
	for {
		if c := g.sessions.Challenge(tid); c != "" {
			return c
		}
		if !time.Now().Before(deadline) {
			return ""
		}
		t := time.NewTimer(g.qrPoll)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ""
		}
	}
}

// handleQRImage handles GET /api/qr/image, rendering the challenge as PNG.
func (g *Gateway) handleQRImage(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	g.ensureConnection(r.Context(), tid)

	challenge := g.waitChallenge(r.Context(), tid)
	if challenge == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "QR not available yet. Wait 2-3 seconds and refresh.")
		return
	}

	png, err := qrcode.Encode(challenge, qrcode.Low, qrImageSize)
	if err != nil {
		g.logger.Error("rendering QR image", "tenant", tid, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "failed to render QR image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	_, _ = w.Write(png)
}

var qrPageTemplate = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Scan QR - {{.Tenant}}</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 420px; margin: 20px auto; padding: 16px; text-align: center; }
    img { max-width: 100%; height: auto; border: 2px solid #ddd; border-radius: 8px; }
    p { color: #666; font-size: 0.9rem; }
  </style>
</head>
<body data-qr-base="{{.ImageBase}}" data-api-key="{{.APIKey}}">
  <h1>Scan WhatsApp QR ({{.Tenant}})</h1>
  <p>On your phone open WhatsApp, Linked devices, Link a device, then scan the image below.</p>
  <p><img id="qrimg" src="{{.ImageURL}}" alt="QR Code" width="400"></p>
  <p>The image refreshes every 25 seconds. A QR code is valid for about 60 seconds.</p>
  <script>
    function refreshQR() {
      var base = document.body.dataset.qrBase;
      var key = document.body.dataset.apiKey;
      var q = key ? "&api_key=" + encodeURIComponent(key) : "";
      document.getElementById("qrimg").src = base + "?t=" + Date.now() + q;
    }
    setInterval(refreshQR, 25000);
  </script>
</body>
</html>`))

// handleQRPage handles GET /api/qr/page, a self-refreshing scan page.
func (g *Gateway) handleQRPage(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	var apiKey string
	if id := auth.FromContext(r.Context()); id != nil {
		apiKey = id.QueryKey
	}

	data := struct {
		Tenant    string
		ImageBase string
		ImageURL  string
		APIKey    string
	}{
		Tenant:    tid,
		ImageBase: strings.TrimSuffix(g.baseURL, "/") + "/api/qr/image",
		ImageURL:  g.link(r, "/api/qr/image", url.Values{"t": {strconv.FormatInt(time.Now().UnixMilli(), 10)}}),
		APIKey:    apiKey,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := qrPageTemplate.Execute(w, data); err != nil {
		g.logger.Error("rendering QR page", "tenant", tid, "error", err)
	}
}

// handleChats handles GET /api/chats.
func (g *Gateway) handleChats(w http.ResponseWriter, r *http.Request, tid string, _ protocol.Conn) {
	chats := g.sessions.Chats(tid)
	g.sendSuccess(w, map[string]any{"chats": chats, "total": len(chats)}, "Chat list")
}

// handleGroups handles GET /api/groups.
func (g *Gateway) handleGroups(w http.ResponseWriter, r *http.Request, tid string, _ protocol.Conn) {
	groups := g.sessions.Groups(r.Context(), tid)
	g.sendSuccess(w, map[string]any{"groups": groups, "total": len(groups)}, "Group list")
}

// handleContacts handles GET /api/contacts.
func (g *Gateway) handleContacts(w http.ResponseWriter, r *http.Request, tid string, _ protocol.Conn) {
	contacts, err := g.sessions.Contacts(r.Context(), tid)
	if err != nil {
		g.logger.Error("listing contacts", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	g.sendSuccess(w, map[string]any{"contacts": contacts, "total": len(contacts)}, "Saved contacts")
}

// handleQuota handles GET /api/quota/{number}.
func (g *Gateway) handleQuota(w http.ResponseWriter, r *http.Request, tid string, _ protocol.Conn) {
	number := r.PathValue("number")
	if phone.Digits(number) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "number is required")
		return
	}
	g.sendSuccess(w, g.guard.Remaining(r.Context(), tid, phone.ToJID(number)), "Daily quota")
}

// handleInbox handles GET /api/inbox?consume&limit&from&debug.
func (g *Gateway) handleInbox(w http.ResponseWriter, r *http.Request, tid string, _ protocol.Conn) {
	q := r.URL.Query()
	consume := isTruthy(q.Get("consume"))
	limit, _ := strconv.Atoi(q.Get("limit")) // unparsable means default
	from := q.Get("from")

	buf := g.sessions.Inbox(tid)
	items := buf.Read(inbox.ReadOptions{Consume: consume, Limit: limit, From: from})

	resp := InboxResponse{
		TenantID: tid,
		Total:    len(items),
		Consumed: consume,
		Messages: items,
	}
	if from != "" {
		resp.SourceNumber = &from
	}
	if isTruthy(q.Get("debug")) {
		d := buf.Debug()
		resp.Debug = &d
	}
	g.sendSuccess(w, resp, "Inbox")
}

// decodeWhitelistRequest reads the number from a JSON body, falling back to
// the query string. An empty body is allowed.
func decodeWhitelistRequest(r *http.Request) (string, error) {
	var req WhitelistRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return "", errors.New("invalid JSON body")
		}
	}
	if req.Number == "" {
		req.Number = r.URL.Query().Get("number")
	}
	return strings.TrimSpace(req.Number), nil
}

// handleListWhitelist handles GET /api/whitelist.
func (g *Gateway) handleListWhitelist(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	numbers, err := g.store.ListWhitelist(r.Context(), tid)
	if err != nil {
		g.logger.Error("listing whitelist", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load whitelist")
		return
	}
	g.sendSuccess(w, map[string]any{"numbers": numbers}, "Whitelisted numbers")
}

// handleAddWhitelist handles POST /api/whitelist.
func (g *Gateway) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	number, err := decodeWhitelistRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if phone.Digits(number) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "number is required")
		return
	}

	if err := g.store.AddToWhitelist(r.Context(), tid, number); err != nil {
		g.logger.Error("adding to whitelist", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to add to whitelist")
		return
	}
	g.respondWhitelist(w, r, tid, "Number added to whitelist")
}

// handleRemoveWhitelist handles DELETE /api/whitelist with the number in
// the body or query string.
func (g *Gateway) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	number, err := decodeWhitelistRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if number == "" {
		g.sendJSONError(w, http.StatusBadRequest, "number is required (body or query)")
		return
	}

	if err := g.store.RemoveFromWhitelist(r.Context(), tid, number); err != nil {
		g.logger.Error("removing from whitelist", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to remove from whitelist")
		return
	}
	g.respondWhitelist(w, r, tid, "Number removed from whitelist")
}

func (g *Gateway) respondWhitelist(w http.ResponseWriter, r *http.Request, tid, message string) {
	numbers, err := g.store.ListWhitelist(r.Context(), tid)
	if err != nil {
		g.logger.Error("listing whitelist", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load whitelist")
		return
	}
	g.sendSuccess(w, map[string]any{"numbers": numbers}, message)
}

// handleLogout handles POST /api/logout.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	err := g.sessions.Logout(r.Context(), tid)
	switch {
	case errors.Is(err, session.ErrNoActiveConnection):
		g.sendJSONError(w, http.StatusBadRequest, "no active connection for this tenant")
		return
	case err != nil:
		g.logger.Error("logout failed", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	g.sendSuccess(w, nil, "Logged out")
}

// handleReconnect handles POST /api/reconnect.
func (g *Gateway) handleReconnect(w http.ResponseWriter, r *http.Request) {
	tid := requestTenant(r)
	msg, err := g.sessions.Reconnect(r.Context(), tid)
	if err != nil {
		g.logger.Error("reconnect failed", "tenant", tid, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "reconnect failed")
		return
	}
	g.sendSuccess(w, nil, msg)
}
