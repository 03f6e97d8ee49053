// ABOUTME: Registry of per-tenant sessions: connect de-duplication, logout, reconnect, readiness
// ABOUTME: Constructed once by the gateway and shared by HTTP handlers and reconnect timers

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/wa-gateway/internal/dedupe"
	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/store"
	"github.com/2389/wa-gateway/internal/tenant"
)

// Defaults used when Config fields are zero.
const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultReadyAttempts  = 12
	DefaultReadyInterval  = time.Second
)

// Config tunes session behavior.
type Config struct {
	ReconnectDelay time.Duration
	ReadyAttempts  int
	ReadyInterval  time.Duration
	Inbox          inbox.Config
}

// Forwarder receives inbound messages from trigger numbers.
type Forwarder interface {
	Wants(from string) bool
	Forward(ctx context.Context, tenant string, item inbox.Item) error
}

// Deps are the registry's collaborators. Dialer and Auth are required.
type Deps struct {
	Dialer    protocol.Dialer
	Auth      store.AuthStore
	Messages  store.MessageLog // optional durable copy of inbound messages
	Forwarder Forwarder        // optional
	Feed      *inbox.Feed      // optional live stream of buffered items
	Logger    *slog.Logger
}

// Registry owns every tenant's Session.
type Registry struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool

	connects singleflight.Group
	seen     *dedupe.Window

	// ctx outlives any single caller; connects and reconnect timers run on it.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	now func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = DefaultReadyAttempts
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With("component", "session"),
		sessions: make(map[string]*Session),
		seen:     dedupe.New(dedupe.DefaultTTL, dedupe.DefaultSize),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// session returns tid's session, creating it on first use.
func (r *Registry) session(tid string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tid]
	if !ok {
		s = newSession(tid, r.cfg.Inbox)
		r.sessions[tid] = s
	}
	return s
}

func (r *Registry) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// EnsureConnection makes sure tenantID has a connection or a connect in
// progress. Concurrent callers share one attempt and its result. Cancelling
// ctx stops the wait, not the attempt.
func (r *Registry) EnsureConnection(ctx context.Context, tenantID string) error {
	tid := tenant.NormalizeID(tenantID)
	if r.session(tid).busy() {
		return nil
	}

	select {
	case res := <-r.startConnect(tid):
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) startConnect(tid string) <-chan singleflight.Result {
	return r.connects.DoChan(tid, func() (any, error) {
		return nil, r.connect(tid)
	})
}

// connect runs the connect sequence. Only one runs per tenant at a time.
func (r *Registry) connect(tid string) error {
	s := r.session(tid)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if r.isClosing() {
		return ErrRegistryClosed
	}
	if s.busy() {
		return nil
	}

	s.mu.Lock()
	s.loggedOut = false
	s.stopRetryLocked()
	s.mu.Unlock()

	logger := r.logger.With("tenant", tid)

	if err := r.purgePending(r.ctx, s); err != nil {
		return fmt.Errorf("clearing revoked auth state: %w", err)
	}

	rec, err := r.deps.Auth.LoadAuth(r.ctx, tid)
	if err != nil {
		logger.Error("loading auth state, starting fresh", "error", err)
		rec = &store.AuthRecord{Tenant: tid}
	}
	auth := newAuthState(tid, rec, r.deps.Auth, logger)

	conn, err := r.deps.Dialer.Dial(r.ctx, protocol.DialOptions{Tenant: tid, Auth: auth, Logger: logger})
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		logger.Error("dial failed", "error", err)
		return fmt.Errorf("connecting tenant %s: %w", tid, err)
	}
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.conn = conn
	s.auth = auth
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	logger.Info("connection started", "paired", !rec.IsFresh())

	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		r.dispatch(s, conn, auth, gen)
	}()
	return nil
}

// purgePending clears stored auth after a logout, local or remote. Callers hold
// s.lifecycle, so a connect never loads credentials that are being purged.
func (r *Registry) purgePending(ctx context.Context, s *Session) error {
	s.mu.RLock()
	pending := s.purgeAuth
	s.mu.RUnlock()
	if !pending {
		return nil
	}

	if err := r.deps.Auth.ClearAuth(ctx, s.tenant); err != nil {
		return err
	}

	s.mu.Lock()
	s.purgeAuth = false
	s.mu.Unlock()
	r.logger.Info("cleared auth state after logout", "tenant", s.tenant)
	return nil
}

// scheduleReconnect arms the flat-delay retry timer for s.
func (r *Registry) scheduleReconnect(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedOut || s.conn != nil || r.isClosing() {
		return
	}
	s.stopRetryLocked()
	s.retry = time.AfterFunc(r.cfg.ReconnectDelay, func() {
		if err := r.EnsureConnection(r.ctx, s.tenant); err != nil && !errors.Is(err, ErrRegistryClosed) {
			r.logger.Warn("reconnect failed, retrying", "tenant", s.tenant, "error", err)
			r.scheduleReconnect(s)
		}
	})
	metrics.ReconnectsScheduled.Inc()
	r.logger.Info("reconnect scheduled", "tenant", s.tenant, "delay", r.cfg.ReconnectDelay)
}

// Logout unlinks the tenant's device, purges its auth record and leaves
// the session disconnected with auto-reconnect off.
func (r *Registry) Logout(ctx context.Context, tenantID string) error {
	tid := tenant.NormalizeID(tenantID)
	s := r.session(tid)
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return ErrNoActiveConnection
	}
	auth := s.auth
	s.loggedOut = true
	s.purgeAuth = true
	conn := s.detachLocked(StateDisconnected)
	s.clearCachesLocked()
	s.mu.Unlock()

	if err := conn.Logout(ctx); err != nil {
		r.logger.Debug("protocol logout failed", "tenant", tid, "error", err)
	}
	_ = conn.Close()

	if auth != nil {
		auth.revoke()
	}
	// Stays pending on failure; the next connect retries the purge first.
	if err := r.purgePending(context.WithoutCancel(ctx), s); err != nil {
		r.logger.Error("clearing auth state", "tenant", tid, "error", err)
		return fmt.Errorf("clearing auth state: %w", err)
	}

	r.logger.Info("logged out", "tenant", tid)
	return nil
}

// Reconnect closes the current connection, keeping credentials, and starts
// a new connect without waiting for it.
func (r *Registry) Reconnect(ctx context.Context, tenantID string) (string, error) {
	tid := tenant.NormalizeID(tenantID)
	if r.isClosing() {
		return "", ErrRegistryClosed
	}
	s := r.session(tid)

	s.lifecycle.Lock()
	s.mu.Lock()
	s.loggedOut = false
	conn := s.detachLocked(StateDisconnected)
	s.mu.Unlock()
	s.lifecycle.Unlock()

	msg := "connection started"
	if conn != nil {
		_ = conn.Close()
		msg = "reconnect started"
	}

	r.logger.Info("reconnect requested", "tenant", tid, "had_connection", conn != nil)
	// A connect that already finished may still hold the singleflight key.
	r.connects.Forget(tid)
	r.startConnect(tid)
	return msg, nil
}

// WaitReady returns the tenant's connection once it is open and writable.
// While a handle exists it polls up to ReadyAttempts times, ReadyInterval
// apart; otherwise it fails immediately with *NotReadyError.
func (r *Registry) WaitReady(ctx context.Context, tenantID string) (protocol.Conn, error) {
	tid := tenant.NormalizeID(tenantID)
	if err := r.EnsureConnection(ctx, tid); err != nil {
		return nil, err
	}
	s := r.session(tid)

	var notReady *NotReadyError
	for attempt := 0; attempt < r.cfg.ReadyAttempts; attempt++ {
		conn, nr := s.ready()
		if nr == nil {
			return conn, nil
		}
		notReady = nr
		if !nr.HasConn || attempt == r.cfg.ReadyAttempts-1 {
			break
		}

		t := time.NewTimer(r.cfg.ReadyInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, notReady
}

// Status returns a snapshot of the tenant's session.
func (r *Registry) Status(tenantID string) Status {
	return r.session(tenant.NormalizeID(tenantID)).status()
}

// Challenge returns the pending pairing challenge, or "".
func (r *Registry) Challenge(tenantID string) string {
	return r.Status(tenantID).Challenge
}

// Chats returns cached chats sorted by JID.
func (r *Registry) Chats(tenantID string) []ChatInfo {
	return r.session(tenant.NormalizeID(tenantID)).chatList()
}

// Groups refreshes the group cache from the open connection, then returns
// it sorted by JID. A refresh failure falls back to the cache.
func (r *Registry) Groups(ctx context.Context, tenantID string) []GroupInfo {
	tid := tenant.NormalizeID(tenantID)
	s := r.session(tid)

	if conn := s.openConn(); conn != nil {
		groups, err := conn.Groups(ctx)
		if err != nil {
			r.logger.Warn("refreshing groups", "tenant", tid, "error", err)
		} else {
			s.mergeGroups(groups)
		}
	}
	return s.groupList()
}

// Contacts lists direct-chat contacts sorted by name. Empty when not connected.
func (r *Registry) Contacts(ctx context.Context, tenantID string) ([]ContactInfo, error) {
	tid := tenant.NormalizeID(tenantID)
	conn := r.session(tid).openConn()
	if conn == nil {
		return []ContactInfo{}, nil
	}

	raw, err := conn.Contacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}

	out := make([]ContactInfo, 0, len(raw))
	for _, c := range raw {
		if c.JID == "" || phone.IsGroup(c.JID) || phone.IsBroadcast(c.JID) {
			continue
		}
		out = append(out, ContactInfo{JID: c.JID, Name: contactName(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func contactName(c protocol.Contact) string {
	for _, n := range []string{c.Name, c.Notify, c.VerifiedName} {
		if n != "" {
			return n
		}
	}
	user, _, _ := strings.Cut(c.JID, "@")
	return user
}

// IsKnownContact asks the open connection whether recipient is in the
// address book. It is false, without error, when not connected.
func (r *Registry) IsKnownContact(ctx context.Context, tenantID, recipient string) (bool, error) {
	conn := r.session(tenant.NormalizeID(tenantID)).openConn()
	if conn == nil {
		return false, nil
	}
	return conn.IsKnownContact(ctx, phone.ToJID(recipient))
}

// Inbox returns the tenant's inbox buffer.
func (r *Registry) Inbox(tenantID string) *inbox.Buffer {
	return r.session(tenant.NormalizeID(tenantID)).inbox
}

// Shutdown stops reconnects, closes every connection and waits for
// dispatchers and background tasks until ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.lifecycle.Lock()
		s.mu.Lock()
		conn := s.detachLocked(StateClosed)
		s.mu.Unlock()
		s.lifecycle.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("session registry stopped", "sessions", len(sessions))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session tasks: %w", ctx.Err())
	}
}
