// ABOUTME: In-process chat network implementing protocol.Dialer for development and tests
// ABOUTME: Simulates pairing, inbound delivery, disconnects, and records outbound sends

package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wa-gateway/internal/phone"
	"github.com/2389/wa-gateway/internal/protocol"
)

// ErrNoConnection is returned when a simulation call targets a tenant with
// no live connection.
var ErrNoConnection = errors.New("loopback: no live connection for tenant")

// eventBuffer bounds how far a connection can run ahead of its reader.
const eventBuffer = 64

// Sent is one recorded outbound message.
type Sent struct {
	JID     string
	Payload protocol.Payload
	At      time.Time
}

type account struct {
	conn     *Conn
	contacts []protocol.Contact
	chats    []protocol.Chat
	groups   []protocol.Group
	sent     []Sent
	sendErr  error
	dials    int
	live     int
}

// Network is a simulated chat network shared by all tenants.
type Network struct {
	mu       sync.Mutex
	accounts map[string]*account
	autoPair time.Duration
	logger   *slog.Logger
}

// Option configures a Network.
type Option func(*Network)

// WithAutoPair completes pairing automatically d after a challenge is issued.
func WithAutoPair(d time.Duration) Option {
	return func(n *Network) { n.autoPair = d }
}

// WithLogger sets the network's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) { n.logger = logger }
}

// NewNetwork creates an empty simulated network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		accounts: make(map[string]*account),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "loopback")
	return n
}

func (n *Network) accountLocked(tenant string) *account {
	a, ok := n.accounts[tenant]
	if !ok {
		a = &account{}
		n.accounts[tenant] = a
	}
	return a
}

// Dial opens a connection. Tenants without credentials get a pairing
// challenge; tenants with credentials go straight to open.
func (n *Network) Dial(ctx context.Context, opts protocol.DialOptions) (protocol.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Auth == nil {
		return nil, errors.New("loopback: auth state is required")
	}

	c := &Conn{
		net:    n,
		tenant: opts.Tenant,
		auth:   opts.Auth,
		events: make(chan protocol.Event, eventBuffer),
		state:  protocol.StateConnecting,
	}

	n.mu.Lock()
	a := n.accountLocked(opts.Tenant)
	a.conn = c
	a.dials++
	a.live++
	n.mu.Unlock()

	if len(opts.Auth.Credentials()) == 0 {
		c.issueChallenge()
	} else {
		c.open()
	}
	return c, nil
}

// Pair completes the pending pairing for tenant, as if the challenge had
// been scanned.
func (n *Network) Pair(tenant string) error {
	c := n.current(tenant)
	if c == nil {
		return ErrNoConnection
	}
	return c.pair()
}

// Deliver injects inbound messages on the tenant's live connection.
func (n *Network) Deliver(tenant string, msgs ...protocol.Message) error {
	c := n.current(tenant)
	if c == nil {
		return ErrNoConnection
	}
	if !c.emit(protocol.Event{Kind: protocol.EventMessages, Messages: msgs}) {
		return protocol.ErrClosed
	}
	return nil
}

// Drop closes the tenant's live connection with reason.
func (n *Network) Drop(tenant string, reason protocol.CloseReason) error {
	c := n.current(tenant)
	if c == nil {
		return ErrNoConnection
	}
	c.closeWith(reason, nil)
	return nil
}

// SetContacts replaces the tenant's address book.
func (n *Network) SetContacts(tenant string, contacts ...protocol.Contact) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accountLocked(tenant).contacts = append([]protocol.Contact(nil), contacts...)
}

// SetChats sets the chats announced when a connection opens.
func (n *Network) SetChats(tenant string, chats ...protocol.Chat) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accountLocked(tenant).chats = append([]protocol.Chat(nil), chats...)
}

// SetGroups sets the groups announced on open and returned by Conn.Groups.
func (n *Network) SetGroups(tenant string, groups ...protocol.Group) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accountLocked(tenant).groups = append([]protocol.Group(nil), groups...)
}

// FailSends makes every send for tenant fail with err. Nil restores sends.
func (n *Network) FailSends(tenant string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accountLocked(tenant).sendErr = err
}

// Sent returns the messages sent by tenant, oldest first.
func (n *Network) Sent(tenant string) []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.accountLocked(tenant).sent...)
}

// Dials returns how many connections tenant has opened.
func (n *Network) Dials(tenant string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accountLocked(tenant).dials
}

// Live returns how many of tenant's connections have not closed yet.
func (n *Network) Live(tenant string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accountLocked(tenant).live
}

// State returns the state of tenant's most recent connection.
func (n *Network) State(tenant string) protocol.ConnectionState {
	c := n.current(tenant)
	if c == nil {
		return protocol.StateClose
	}
	return c.currentState()
}

func (n *Network) current(tenant string) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.accounts[tenant]
	if !ok {
		return nil
	}
	return a.conn
}

// Conn is one simulated connection.
type Conn struct {
	net    *Network
	tenant string
	auth   protocol.AuthState

	emitMu sync.Mutex // serializes sends on events against closing it
	events chan protocol.Event
	closed bool

	mu        sync.Mutex
	state     protocol.ConnectionState
	challenge string
	pairTimer *time.Timer
}

var _ protocol.Conn = (*Conn)(nil)

// Events returns the ordered event stream.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// emit delivers ev unless the connection already closed.
func (c *Conn) emit(ev protocol.Event) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

func (c *Conn) currentState() protocol.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) issueChallenge() {
	challenge := fmt.Sprintf("loopback-pair:%s:%s", c.tenant, uuid.NewString())

	c.mu.Lock()
	c.challenge = challenge
	if d := c.net.autoPair; d > 0 {
		c.pairTimer = time.AfterFunc(d, func() {
			if err := c.pair(); err != nil {
				c.net.logger.Debug("auto pair skipped", "tenant", c.tenant, "error", err)
			}
		})
	}
	c.mu.Unlock()

	c.emit(protocol.Event{Kind: protocol.EventConnection, Connection: &protocol.ConnectionUpdate{
		State:     protocol.StateConnecting,
		Challenge: challenge,
	}})
}

type credentials struct {
	Tenant   string    `json:"tenant"`
	DeviceID string    `json:"device_id"`
	PairedAt time.Time `json:"paired_at"`
}

func (c *Conn) pair() error {
	c.mu.Lock()
	if c.state != protocol.StateConnecting || c.challenge == "" {
		c.mu.Unlock()
		return fmt.Errorf("loopback: tenant %s has no pending pairing", c.tenant)
	}
	c.challenge = ""
	c.mu.Unlock()

	creds, err := json.Marshal(credentials{Tenant: c.tenant, DeviceID: uuid.NewString(), PairedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	// A real client uploads its first pre-keys right after pairing.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.auth.SetKeys(ctx, map[string]map[string][]byte{
		"pre-key": {"1": []byte(uuid.NewString()), "2": []byte(uuid.NewString())},
	}); err != nil {
		c.net.logger.Warn("storing pre-keys", "tenant", c.tenant, "error", err)
	}

	if !c.emit(protocol.Event{Kind: protocol.EventCredentials, Credentials: creds}) {
		return protocol.ErrClosed
	}
	c.open()
	return nil
}

func (c *Conn) open() {
	c.mu.Lock()
	c.state = protocol.StateOpen
	c.mu.Unlock()

	c.emit(protocol.Event{Kind: protocol.EventConnection, Connection: &protocol.ConnectionUpdate{State: protocol.StateOpen}})

	c.net.mu.Lock()
	a := c.net.accountLocked(c.tenant)
	chats := append([]protocol.Chat(nil), a.chats...)
	groups := append([]protocol.Group(nil), a.groups...)
	c.net.mu.Unlock()

	if len(chats) > 0 {
		c.emit(protocol.Event{Kind: protocol.EventChats, Chats: chats})
	}
	if len(groups) > 0 {
		c.emit(protocol.Event{Kind: protocol.EventGroups, Groups: groups})
	}
}

func (c *Conn) closeWith(reason protocol.CloseReason, cause error) {
	c.mu.Lock()
	if c.pairTimer != nil {
		c.pairTimer.Stop()
	}
	c.state = protocol.StateClose
	c.challenge = ""
	c.mu.Unlock()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.closed {
		return
	}
	c.events <- protocol.Event{Kind: protocol.EventConnection, Connection: &protocol.ConnectionUpdate{
		State:  protocol.StateClose,
		Reason: reason,
		Err:    cause,
	}}
	c.closed = true
	close(c.events)

	c.net.mu.Lock()
	a := c.net.accountLocked(c.tenant)
	a.live--
	c.net.mu.Unlock()
}

// Send records the message, or fails if the connection is not open.
func (c *Conn) Send(ctx context.Context, jid string, payload protocol.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsWritable() {
		return protocol.ErrClosed
	}

	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	a := c.net.accountLocked(c.tenant)
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, Sent{JID: jid, Payload: payload, At: time.Now()})
	return nil
}

// Logout unlinks the device and closes with CloseLoggedOut.
func (c *Conn) Logout(ctx context.Context) error {
	if c.currentState() == protocol.StateClose {
		return protocol.ErrClosed
	}
	c.closeWith(protocol.CloseLoggedOut, nil)
	return nil
}

// Close shuts the connection down without unlinking.
func (c *Conn) Close() error {
	c.closeWith(protocol.CloseRequested, nil)
	return nil
}

// IsWritable reports whether the connection is open.
func (c *Conn) IsWritable() bool {
	return c.currentState() == protocol.StateOpen
}

// IsKnownContact compares jid against the address book by digits.
func (c *Conn) IsKnownContact(ctx context.Context, jid string) (bool, error) {
	if !c.IsWritable() {
		return false, nil
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	for _, ct := range c.net.accountLocked(c.tenant).contacts {
		if phone.SameNumber(ct.JID, jid) {
			return true, nil
		}
	}
	return false, nil
}

// Contacts returns the address book.
func (c *Conn) Contacts(ctx context.Context) ([]protocol.Contact, error) {
	if !c.IsWritable() {
		return nil, protocol.ErrClosed
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return append([]protocol.Contact(nil), c.net.accountLocked(c.tenant).contacts...), nil
}

// Groups returns the groups the account participates in.
func (c *Conn) Groups(ctx context.Context) ([]protocol.Group, error) {
	if !c.IsWritable() {
		return nil, protocol.ErrClosed
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	return append([]protocol.Group(nil), c.net.accountLocked(c.tenant).groups...), nil
}
