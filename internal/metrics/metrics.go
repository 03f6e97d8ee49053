// ABOUTME: Prometheus collectors for sessions, sends, quota, inbox, and HTTP traffic
// ABOUTME: Registered on the default registry and served by the gateway at /metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wagateway_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 15},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_connect_attempts_total",
			Help: "Connect sequences started, by result",
		},
		[]string{"result"}, // "ok" or "error"
	)

	SessionStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wagateway_sessions",
			Help: "Sessions by connection state",
		},
		[]string{"state"},
	)

	ReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagateway_reconnects_scheduled_total",
			Help: "Automatic reconnects scheduled after a disconnect",
		},
	)

	PairingChallenges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagateway_pairing_challenges_total",
			Help: "Pairing challenges issued by the network",
		},
	)

	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_inbound_messages_total",
			Help: "Inbound messages by outcome",
		},
		[]string{"outcome"}, // "buffered", "skipped", "duplicate"
	)

	BackgroundFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_background_failures_total",
			Help: "Detached background tasks that returned an error",
		},
		[]string{"task"},
	)

	// Send metrics
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_sends_total",
			Help: "Outbound sends by payload kind and result",
		},
		[]string{"kind", "result"},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_quota_rejections_total",
			Help: "Sends rejected by the daily quota",
		},
		[]string{"contact"}, // "known" or "unknown"
	)

	AntiBlockDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wagateway_antiblock_delay_seconds",
			Help:    "Time spent in the unknown-recipient delay",
			Buckets: []float64{.5, 1, 2, 3, 5, 10},
		},
	)

	WebhookForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagateway_webhook_forwards_total",
			Help: "Webhook forwards by result",
		},
		[]string{"result"},
	)
)
