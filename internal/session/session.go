// ABOUTME: Per-tenant session state: connection handle, pairing challenge, caches, inbox
// ABOUTME: All fields are guarded by the session mutex; lifecycle ops serialize on a second lock

package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/wa-gateway/internal/inbox"
	"github.com/2389/wa-gateway/internal/metrics"
	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
)

// State is a session's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	// StateClosed is terminal and only used once the registry shuts down.
	StateClosed State = "closed"
)

// ErrNoActiveConnection is returned by Logout when the tenant has no
// connection handle.
var ErrNoActiveConnection = errors.New("no active connection")

// ErrRegistryClosed is returned by connect attempts after Shutdown.
var ErrRegistryClosed = errors.New("session registry is shut down")

// NotReadyError reports that a tenant's connection could not be used for
// sending within the readiness wait.
type NotReadyError struct {
	Tenant   string `json:"tenantId"`
	State    State  `json:"connectionStatus"`
	HasConn  bool   `json:"hasSocket"`
	Writable bool   `json:"wsReady"`
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("connection for tenant %s is not ready (state %s)", e.Tenant, e.State)
}

// Status is a point-in-time view of a session.
type Status struct {
	Tenant    string `json:"tenantId"`
	State     State  `json:"status"`
	Connected bool   `json:"connected"`
	Challenge string `json:"-"`
}

// ChatInfo is a cached chat.
type ChatInfo struct {
	JID     string `json:"jid"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// GroupInfo is a cached group.
type GroupInfo struct {
	JID          string   `json:"jid"`
	Subject      string   `json:"subject"`
	Size         int      `json:"size"`
	Participants []string `json:"-"`
}

// ContactInfo is one address book entry.
type ContactInfo struct {
	JID  string `json:"jid"`
	Name string `json:"name"`
}

// Session is one tenant's connection state.
type Session struct {
	tenant string
	inbox  *inbox.Buffer

	// lifecycle serializes connect, logout, reconnect and shutdown.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     State
	challenge string
	conn      protocol.Conn
	auth      *authState
	gen       uint64 // bumped whenever conn is replaced; stale dispatchers compare against it
	loggedOut bool
	purgeAuth bool // logged out, stored auth not yet cleared
	retry     *time.Timer
	chats     map[string]ChatInfo
	groups    map[string]GroupInfo
}

func newSession(tenant string, cfg inbox.Config) *Session {
	metrics.SessionStates.WithLabelValues(string(StateDisconnected)).Inc()
	return &Session{
		tenant: tenant,
		inbox:  inbox.New(cfg),
		state:  StateDisconnected,
		chats:  make(map[string]ChatInfo),
		groups: make(map[string]GroupInfo),
	}
}

// setStateLocked must be called with mu held.
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	metrics.SessionStates.WithLabelValues(string(s.state)).Dec()
	metrics.SessionStates.WithLabelValues(string(st)).Inc()
	s.state = st
}

// detachLocked drops the connection handle and invalidates its dispatcher.
// Returns the old handle for the caller to close outside the lock.
func (s *Session) detachLocked(st State) protocol.Conn {
	conn := s.conn
	s.conn = nil
	s.auth = nil
	s.gen++
	s.challenge = ""
	s.stopRetryLocked()
	s.setStateLocked(st)
	return conn
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// current reports whether gen is still the live connection generation.
func (s *Session) current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen
}

// busy reports whether a connection exists or is being established.
func (s *Session) busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil || s.state == StateConnecting || s.state == StateOpen
}

func (s *Session) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Tenant:    s.tenant,
		State:     s.state,
		Connected: s.conn != nil && s.state == StateOpen,
		Challenge: s.challenge,
	}
}

// ready returns the connection when it is open and writable.
func (s *Session) ready() (protocol.Conn, *NotReadyError) {
	s.mu.RLock()
	state, conn := s.state, s.conn
	s.mu.RUnlock()

	writable := conn != nil && conn.IsWritable()
	if state == StateOpen && writable {
		return conn, nil
	}
	return nil, &NotReadyError{Tenant: s.tenant, State: state, HasConn: conn != nil, Writable: writable}
}

func (s *Session) openConn() protocol.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOpen {
		return nil
	}
	return s.conn
}

func (s *Session) mergeChats(chats []protocol.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chats {
		if c.JID == "" {
			continue
		}
		name := c.Name
		if name == "" {
			name = c.JID
		}
		s.chats[c.JID] = ChatInfo{JID: c.JID, Name: name, IsGroup: phone.IsGroup(c.JID)}
	}
}

func (s *Session) mergeGroups(groups []protocol.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range groups {
		if g.JID == "" {
			continue
		}
		subject := g.Subject
		if subject == "" {
			subject = g.JID
		}
		s.groups[g.JID] = GroupInfo{
			JID:          g.JID,
			Subject:      subject,
			Size:         len(g.Participants),
			Participants: append([]string(nil), g.Participants...),
		}
		s.chats[g.JID] = ChatInfo{JID: g.JID, Name: subject, IsGroup: true}
	}
}

func (s *Session) clearCachesLocked() {
	s.chats = make(map[string]ChatInfo)
	s.groups = make(map[string]GroupInfo)
}

func (s *Session) chatList() []ChatInfo {
	s.mu.RLock()
	out := make([]ChatInfo, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

func (s *Session) groupList() []GroupInfo {
	s.mu.RLock()
	out := make([]GroupInfo, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}
