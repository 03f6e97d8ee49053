// ABOUTME: Store interfaces and data types for gateway persistence
// ABOUTME: Defines auth state, quota counters, whitelist, API keys, and the inbound message log

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AuthRecord is the durable credential state of one tenant's protocol session.
// Named key blobs are reached through AuthStore.GetKeys and SetKeys.
type AuthRecord struct {
	Tenant      string
	Credentials []byte // nil for a tenant that has never paired
	UpdatedAt   time.Time
}

// IsFresh reports whether the record carries no credentials.
func (r *AuthRecord) IsFresh() bool {
	return len(r.Credentials) == 0
}

// APIKey maps one secret key to exactly one tenant
type APIKey struct {
	Key       string
	Tenant    string
	CreatedAt time.Time
}

// IncomingMessage is one normalized inbound message kept for auditing
type IncomingMessage struct {
	ID          string
	Tenant      string
	From        string // normalized sender number
	SenderJID   string
	ChatJID     string
	PushName    string
	Type        string
	Text        *string
	TimestampMS int64
	CreatedAt   time.Time
}

// AuthStore persists the credential blob and key mapping the protocol client
// needs to resume a session without re-pairing.
type AuthStore interface {
	// LoadAuth never fails on missing data; it returns a fresh record instead.
	LoadAuth(ctx context.Context, tenant string) (*AuthRecord, error)
	SaveCredentials(ctx context.Context, tenant string, creds []byte) error
	// GetKeys returns values for the logical names that exist. Missing names
	// are omitted from the result.
	GetKeys(ctx context.Context, tenant string, names []string) (map[string][]byte, error)
	// SetKeys upserts each entry; a nil value deletes that name.
	SetKeys(ctx context.Context, tenant string, entries map[string][]byte) error
	// ClearAuth deletes the credentials and every key of the tenant.
	ClearAuth(ctx context.Context, tenant string) error
}

// QuotaStore keeps per-day send counters.
type QuotaStore interface {
	GetQuotaCount(ctx context.Context, tenant, recipient, day string) (int, error)
	// IncrementQuota atomically adds one and returns the new count.
	IncrementQuota(ctx context.Context, tenant, recipient, day string) (int, error)
}

// WhitelistStore manages the per-tenant recipient allow-list
type WhitelistStore interface {
	ListWhitelist(ctx context.Context, tenant string) ([]string, error)
	AddToWhitelist(ctx context.Context, tenant, number string) error
	RemoveFromWhitelist(ctx context.Context, tenant, number string) error
}

// APIKeyStore resolves API keys to tenants
type APIKeyStore interface {
	// CreateAPIKey returns the tenant's existing key if it already has one.
	CreateAPIKey(ctx context.Context, tenant string) (*APIKey, error)
	// GetTenantByAPIKey returns ErrNotFound for unknown keys.
	GetTenantByAPIKey(ctx context.Context, key string) (string, error)
	// DeleteAPIKey returns ErrNotFound if the tenant has no key.
	DeleteAPIKey(ctx context.Context, tenant string) error
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}

// MessageLog is an append-only record of inbound messages
type MessageLog interface {
	SaveIncomingMessage(ctx context.Context, msg *IncomingMessage) error
	ListIncomingMessages(ctx context.Context, tenant string, limit int) ([]*IncomingMessage, error)
}

// Store is the full persistence surface used by the gateway
type Store interface {
	AuthStore
	QuotaStore
	WhitelistStore
	APIKeyStore
	MessageLog

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error
	// Close releases any resources held by the store
	Close() error
}
