// ABOUTME: Forwards inbound messages from a configured trigger number to a downstream webhook
// ABOUTME: Posts the normalized message as JSON; delivery is best effort

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/phone"
)

// DefaultTimeout bounds one webhook POST.
const DefaultTimeout = 10 * time.Second

// Config selects which sender triggers a forward and where it goes.
type Config struct {
	URL           string
	TriggerNumber string
	Timeout       time.Duration
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	TenantID  string  `json:"tenantId"`
	From      string  `json:"from"`
	SenderJID string  `json:"senderJid"`
	ChatJID   string  `json:"chatJid"`
	PushName  *string `json:"pushName"`
	Type      string  `json:"type"`
	Text      *string `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

// Forwarder posts trigger-number messages to the webhook URL.
type Forwarder struct {
	url     string
	trigger string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Forwarder. It is disabled when URL or TriggerNumber is empty.
func New(cfg Config, logger *slog.Logger) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		url:     cfg.URL,
		trigger: phone.Normalize(cfg.TriggerNumber),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "webhook"),
	}
}

// Enabled reports whether forwarding is configured.
func (f *Forwarder) Enabled() bool {
	return f != nil && f.url != "" && f.trigger != ""
}

// Wants reports whether a message from the normalized sender should be forwarded.
func (f *Forwarder) Wants(from string) bool {
	return f.Enabled() && from == f.trigger
}

// Forward posts item to the webhook. Non-2xx responses are errors.
func (f *Forwarder) Forward(ctx context.Context, tenantID string, item inbox.Item) error {
	payload := Payload{
		TenantID:  tenantID,
		From:      item.From,
		SenderJID: item.SenderJID,
		ChatJID:   item.ChatJID,
		Type:      item.Type,
		Text:      item.Text,
		Timestamp: item.Timestamp,
	}
	if item.PushName != "" {
		name := item.PushName
		payload.PushName = &name
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.WebhookForwards.WithLabelValues("error").Inc()
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookForwards.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.WebhookForwards.WithLabelValues("ok").Inc()
	f.logger.Debug("forwarded message", "tenant", tenantID, "from", item.From, "type", item.Type)
	return nil
}
