// ABOUTME: Gateway orchestrator that wires the session registry, send guard, and HTTP server
// ABOUTME: Owns store, quota backend, network driver, and listener lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/wa-gateway/internal/auth"
	"github.com/2389/wa-gateway/internal/config"
	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/protocol/loopback"
	"github.com/2389/wa-gateway/internal/quota"
	"github.com/2389/wa-gateway/internal/session"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/webhook"
)

const (
	// qrWait bounds how long /api/qr/image waits for a challenge to appear.
	defaultQRWait = 6 * time.Second
	defaultQRPoll = 500 * time.Millisecond
	// streamKeepAlive is the SSE comment interval on /api/inbox/stream.
	defaultStreamKeepAlive = 25 * time.Second
)

// Gateway serves the tenant HTTP API on top of the session registry.
type Gateway struct {
	config      *config.Config
	store       store.Store
	redis       *store.RedisQuotaStore // nil unless quota.backend is redis
	sessions    *session.Registry
	guard       *quota.Guard
	feed        *inbox.Feed
	verifier    *auth.JWTVerifier // nil when no jwt_secret is configured
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// baseURL prefixes QR links returned to clients
	baseURL string

	qrWait          time.Duration
	qrPoll          time.Duration
	streamKeepAlive time.Duration
}

// Deps lets callers supply collaborators instead of building them from
// config. Zero fields are built from config.
type Deps struct {
	Store        store.Store
	Quota        store.QuotaStore
	Dialer       protocol.Dialer
	GuardOptions []quota.Option
}

// OpenStore opens the configured durable store, creating the SQLite
// directory when needed.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		if cfg.Database.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// New creates a Gateway with every collaborator built from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithDeps(cfg, Deps{}, logger)
}

// NewWithDeps creates a Gateway, building any collaborator deps leaves unset.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw := &Gateway{
		config:          cfg,
		logger:          logger.With("component", "gateway"),
		baseURL:         cfg.Server.BaseURL,
		qrWait:          defaultQRWait,
		qrPoll:          defaultQRPoll,
		streamKeepAlive: defaultStreamKeepAlive,
	}

	gw.store = deps.Store
	if gw.store == nil {
		s, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gw.store = s
	}

	quotaStore := deps.Quota
	if quotaStore == nil {
		quotaStore = gw.store
		if cfg.Quota.Backend == "redis" {
			rs, err := store.NewRedisQuotaStore(ctx, cfg.Redis.URL)
			if err != nil {
				_ = gw.store.Close()
				return nil, fmt.Errorf("initializing redis quota store: %w", err)
			}
			gw.redis = rs
			quotaStore = rs
		}
	}

	dialer := deps.Dialer
	if dialer == nil {
		dialer = loopback.NewNetwork(
			loopback.WithAutoPair(cfg.Network.AutoPair),
			loopback.WithLogger(logger),
		)
		logger.Warn("using the loopback network driver; messages never leave this process")
	}

	gw.feed = inbox.NewFeed(logger)

	sessionDeps := session.Deps{
		Dialer:   dialer,
		Auth:     gw.store,
		Messages: gw.store,
		Feed:     gw.feed,
		Logger:   logger,
	}
	forwarder := webhook.New(webhook.Config{
		URL:           cfg.Webhook.URL,
		TriggerNumber: cfg.Webhook.TriggerNumber,
		Timeout:       cfg.Webhook.Timeout,
	}, logger)
	if forwarder.Enabled() {
		sessionDeps.Forwarder = forwarder
		logger.Info("webhook forwarding enabled", "trigger_number", cfg.Webhook.TriggerNumber)
	}

	gw.sessions = session.NewRegistry(session.Config{
		ReconnectDelay: cfg.Session.ReconnectDelay,
		ReadyAttempts:  cfg.Session.ReadyAttempts,
		ReadyInterval:  cfg.Session.ReadyInterval,
		Inbox: inbox.Config{
			Capacity:      cfg.Inbox.Capacity,
			TraceCapacity: cfg.Inbox.DebugCapacity,
			DefaultLimit:  cfg.Inbox.DefaultLimit,
			MaxLimit:      cfg.Inbox.MaxLimit,
		},
	}, sessionDeps)

	unknownDelay := cfg.Quota.UnknownDelay
	if unknownDelay == 0 {
		unknownDelay = -1 // explicit zero disables the wait
	}
	gw.guard = quota.NewGuard(quotaStore, gw.sessions, quota.Config{
		LimitKnown:   cfg.Quota.LimitKnown,
		LimitUnknown: cfg.Quota.LimitUnknown,
		UnknownDelay: unknownDelay,
		Location:     cfg.Quota.Location,
	}, logger, deps.GuardOptions...)

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Sessions returns the session registry.
func (g *Gateway) Sessions() *session.Registry {
	return g.sessions
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.listenTailnet(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The original context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every tenant connection and
// releases the stores.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Inbox streams never finish on their own; closing the feed ends them
	// so the HTTP shutdown can drain.
	g.feed.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session shutdown", g.sessions.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
