// ABOUTME: Server-Sent Events stream of a tenant's inbound messages
// ABOUTME: Observe-only; streamed items stay in the inbox until read with consume

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/wa-gateway/internal/phone"
)

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// handleInboxStream handles GET /api/inbox/stream?from=.
// It emits a "ready" event, then one "message" event per new inbound item.
func (g *Gateway) handleInboxStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	tid := requestTenant(r)
	ctx := r.Context()
	g.ensureConnection(ctx, tid)

	from := phone.Normalize(r.URL.Query().Get("from"))
	items := g.feed.Subscribe(ctx, tid)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "ready", map[string]string{"tenantId": tid})
	flusher.Flush()

	keepAlive := time.NewTicker(g.streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case item, ok := <-items:
			if !ok {
				return
			}
			if from != "" && item.From != from {
				continue
			}
			g.writeSSEEvent(w, "message", item)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
