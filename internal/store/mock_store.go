// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	creds     map[string]*AuthRecord       // keyed by tenant
	keys      map[string]map[string][]byte // tenant -> escaped key name -> value
	counters  map[string]int               // keyed by "tenant|recipient|day"
	whitelist map[string]map[string]bool   // tenant -> number set
	apiKeys   map[string]*APIKey           // keyed by api key
	messages  map[string][]*IncomingMessage
	err       error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		creds:     make(map[string]*AuthRecord),
		keys:      make(map[string]map[string][]byte),
		counters:  make(map[string]int),
		whitelist: make(map[string]map[string]bool),
		apiKeys:   make(map[string]*APIKey),
		messages:  make(map[string][]*IncomingMessage),
	}
}

// SetErr makes every subsequent operation return err. Pass nil to recover.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockStore) fail() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func counterKey(tenantID, recipient, day string) string {
	return tenantID + "|" + recipient + "|" + day
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// LoadAuth returns a copy of the stored record or a fresh one.
func (m *MockStore) LoadAuth(ctx context.Context, tenantID string) (*AuthRecord, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	tid := scope(tenantID)
	rec, ok := m.creds[tid]
	if !ok {
		return &AuthRecord{Tenant: tid}, nil
	}
	return &AuthRecord{Tenant: tid, Credentials: cloneBytes(rec.Credentials), UpdatedAt: rec.UpdatedAt}, nil
}

// SaveCredentials stores a copy of creds.
func (m *MockStore) SaveCredentials(ctx context.Context, tenantID string, creds []byte) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	m.creds[tid] = &AuthRecord{Tenant: tid, Credentials: cloneBytes(creds), UpdatedAt: time.Now().UTC()}
	return nil
}

// GetKeys returns copies of the stored values that exist.
func (m *MockStore) GetKeys(ctx context.Context, tenantID string, names []string) (map[string][]byte, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(names))
	tk := m.keys[scope(tenantID)]
	for _, name := range names {
		if v, ok := tk[EscapeKeyName(name)]; ok {
			out[name] = cloneBytes(v)
		}
	}
	return out, nil
}

// SetKeys upserts or deletes each entry.
func (m *MockStore) SetKeys(ctx context.Context, tenantID string, entries map[string][]byte) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	tk, ok := m.keys[tid]
	if !ok {
		tk = make(map[string][]byte)
		m.keys[tid] = tk
	}
	for name, v := range entries {
		k := EscapeKeyName(name)
		if v == nil {
			delete(tk, k)
			continue
		}
		tk[k] = cloneBytes(v)
	}
	return nil
}

// ClearAuth drops credentials and keys for the tenant.
func (m *MockStore) ClearAuth(ctx context.Context, tenantID string) error {
	if err := m.fail(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	delete(m.creds, tid)
	delete(m.keys, tid)
	return nil
}

// KeyCount reports how many keys a tenant has stored.
func (m *MockStore) KeyCount(tenantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys[scope(tenantID)])
}

// GetQuotaCount returns zero for missing counters.
func (m *MockStore) GetQuotaCount(ctx context.Context, tenantID, recipient, day string) (int, error) {
	if err := m.fail(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[counterKey(scope(tenantID), recipient, day)], nil
}

// IncrementQuota adds one under the write lock.
func (m *MockStore) IncrementQuota(ctx context.Context, tenantID, recipient, day string) (int, error) {
	if err := m.fail(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := counterKey(scope(tenantID), recipient, day)
	m.counters[k]++
	return m.counters[k], nil
}

// ListWhitelist returns the tenant's numbers sorted ascending.
func (m *MockStore) ListWhitelist(ctx context.Context, tenantID string) ([]string, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	numbers := []string{}
	for n := range m.whitelist[scope(tenantID)] {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers, nil
}

// AddToWhitelist is idempotent.
func (m *MockStore) AddToWhitelist(ctx context.Context, tenantID, number string) error {
	if err := m.fail(); err != nil {
		return err
	}
	n := whitelistNumber(number)
	if n == "" {
		return errors.New("whitelist number has no digits")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	if m.whitelist[tid] == nil {
		m.whitelist[tid] = make(map[string]bool)
	}
	m.whitelist[tid][n] = true
	return nil
}

// RemoveFromWhitelist is a no-op for numbers not on the list.
func (m *MockStore) RemoveFromWhitelist(ctx context.Context, tenantID, number string) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.whitelist[scope(tenantID)], whitelistNumber(number))
	return nil
}

// CreateAPIKey returns the tenant's existing key or generates one.
func (m *MockStore) CreateAPIKey(ctx context.Context, tenantID string) (*APIKey, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	for _, k := range m.apiKeys {
		if k.Tenant == tid {
			c := *k
			return &c, nil
		}
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	k := &APIKey{Key: key, Tenant: tid, CreatedAt: time.Now().UTC()}
	m.apiKeys[key] = k
	c := *k
	return &c, nil
}

// GetTenantByAPIKey returns ErrNotFound for unknown keys.
func (m *MockStore) GetTenantByAPIKey(ctx context.Context, key string) (string, error) {
	if err := m.fail(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.apiKeys[key]
	if !ok {
		return "", ErrNotFound
	}
	return k.Tenant, nil
}

// DeleteAPIKey returns ErrNotFound if the tenant has no key.
func (m *MockStore) DeleteAPIKey(ctx context.Context, tenantID string) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tid := scope(tenantID)
	for key, k := range m.apiKeys {
		if k.Tenant == tid {
			delete(m.apiKeys, key)
			return nil
		}
	}
	return ErrNotFound
}

// ListAPIKeys returns copies ordered by tenant.
func (m *MockStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		c := *k
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Tenant < keys[j].Tenant })
	return keys, nil
}

// SaveIncomingMessage assigns msg its ID and timestamp, then appends a copy.
func (m *MockStore) SaveIncomingMessage(ctx context.Context, msg *IncomingMessage) error {
	if err := m.fail(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = newMessageID(msg.CreatedAt)
	}
	msg.Tenant = scope(msg.Tenant)

	c := *msg
	m.messages[c.Tenant] = append(m.messages[c.Tenant], &c)
	return nil
}

// ListIncomingMessages returns the most recent messages, oldest first.
func (m *MockStore) ListIncomingMessages(ctx context.Context, tenantID string, limit int) ([]*IncomingMessage, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[scope(tenantID)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*IncomingMessage, len(all))
	for i, msg := range all {
		c := *msg
		out[i] = &c
	}
	return out, nil
}

// Ping reports the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.fail()
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
