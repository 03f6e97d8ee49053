// ABOUTME: Contract between the session engine and a chat network protocol client
// ABOUTME: Defines Dialer, Conn, AuthState, and the event stream a connection emits

package protocol

import (
	"context"
	"errors"
	"log/slog"
)

// ErrClosed is returned by operations on a connection that has shut down.
var ErrClosed = errors.New("connection closed")

// ConnectionState is the lifecycle state reported by a connection.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// CloseReason explains why a connection closed.
type CloseReason string

const (
	// CloseLoggedOut means the account unlinked this device. Stored
	// credentials are no longer valid and must not be retried.
	CloseLoggedOut CloseReason = "logged_out"
	// CloseConnectionLost covers transient network failures.
	CloseConnectionLost CloseReason = "connection_lost"
	// CloseRequested means the local side called Close.
	CloseRequested CloseReason = "requested"
)

// ConnectionUpdate describes a lifecycle transition. Challenge is set when
// the network asks for a new pairing scan.
type ConnectionUpdate struct {
	State     ConnectionState
	Challenge string
	Reason    CloseReason
	Err       error
}

// EventKind discriminates Event payloads.
type EventKind int

const (
	EventCredentials EventKind = iota + 1
	EventChats
	EventGroups
	EventMessages
	EventConnection
)

func (k EventKind) String() string {
	switch k {
	case EventCredentials:
		return "credentials"
	case EventChats:
		return "chats"
	case EventGroups:
		return "groups"
	case EventMessages:
		return "messages"
	case EventConnection:
		return "connection"
	}
	return "unknown"
}

// Event is one item on a connection's event stream. Exactly the field
// matching Kind is populated.
type Event struct {
	Kind        EventKind
	Credentials []byte
	Chats       []Chat
	Groups      []Group
	Messages    []Message
	Connection  *ConnectionUpdate
}

// Chat is a conversation discovered on the account.
type Chat struct {
	JID  string
	Name string
}

// Group is a group chat the account participates in.
type Group struct {
	JID          string
	Subject      string
	Participants []string
}

// Contact is an entry in the account's address book.
type Contact struct {
	JID          string
	Name         string
	Notify       string
	VerifiedName string
}

// MessageKey identifies a message and its origin.
type MessageKey struct {
	ID          string
	RemoteJID   string
	Participant string // group sender; empty for direct chats
	FromMe      bool
}

// Content carries the text-bearing parts of a message. Binary media is
// not surfaced to the engine.
type Content struct {
	Conversation    string
	ExtendedText    string
	ImageCaption    string
	VideoCaption    string
	DocumentCaption string
	ButtonsReply    string
	ListTitle       string
	TemplateReply   string
}

// Message is one raw inbound message.
type Message struct {
	Key       MessageKey
	PushName  string
	Timestamp int64  // unix seconds, zero if unknown
	Type      string // e.g. "conversation", "imageMessage"; empty if no content
	Content   *Content
}

// MediaKind selects how a media payload is delivered.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
)

// Media is an outbound attachment.
type Media struct {
	Kind     MediaKind
	Data     []byte
	MimeType string
	FileName string
	Caption  string
	PTT      bool // audio as voice note
	PTV      bool // video as round video note
}

// Payload is an outbound message. Exactly one of Text or Media is used.
type Payload struct {
	Text  string
	Media *Media
}

// AuthState gives a connection read/write access to the tenant's durable
// credential state. Credential changes flow back as EventCredentials.
type AuthState interface {
	Credentials() []byte
	// GetKeys returns values for the ids that exist in category.
	GetKeys(ctx context.Context, category string, ids []string) (map[string][]byte, error)
	// SetKeys writes category -> id -> value; a nil value deletes.
	SetKeys(ctx context.Context, data map[string]map[string][]byte) error
}

// DialOptions configures a new connection.
type DialOptions struct {
	Tenant string
	Auth   AuthState
	Logger *slog.Logger
}

// Dialer opens protocol connections.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one live protocol connection. Events is closed after the final
// StateClose update has been delivered.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, jid string, payload Payload) error
	Logout(ctx context.Context) error
	Close() error
	// IsWritable reports whether the transport can accept a send right now.
	IsWritable() bool
	IsKnownContact(ctx context.Context, jid string) (bool, error)
	Contacts(ctx context.Context) ([]Contact, error)
	Groups(ctx context.Context) ([]Group, error)
}
