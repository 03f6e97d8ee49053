// ABOUTME: Adapts store.AuthStore to the protocol's per-connection AuthState contract
// ABOUTME: Store failures degrade to absent reads and logged writes; revoke fences writes before a purge

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/wa-gateway/internal/protocol"
	"github.com/2389/wa-gateway/internal/store"
)

// authState is handed to one protocol connection. Credentials are cached in
// memory; key reads and writes go straight to the store.
type authState struct {
	tenant string
	store  store.AuthStore
	logger *slog.Logger

	mu      sync.RWMutex
	creds   []byte
	revoked bool

	// writeMu orders writes so a purge never interleaves with a save.
	writeMu sync.Mutex
}

var _ protocol.AuthState = (*authState)(nil)

func newAuthState(tenant string, rec *store.AuthRecord, st store.AuthStore, logger *slog.Logger) *authState {
	a := &authState{tenant: tenant, store: st, logger: logger}
	if rec != nil {
		a.creds = rec.Credentials
	}
	return a
}

func keyName(category, id string) string {
	return category + "-" + id
}

// Credentials returns the cached credential blob.
func (a *authState) Credentials() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.creds
}

func (a *authState) isRevoked() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.revoked
}

// GetKeys fetches ids within category. A store failure is logged and
// reported as no keys found.
func (a *authState) GetKeys(ctx context.Context, category string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	if len(ids) == 0 || a.isRevoked() {
		return out, nil
	}

	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = keyName(category, id)
	}

	found, err := a.store.GetKeys(ctx, a.tenant, names)
	if err != nil {
		a.logger.Error("reading auth keys", "tenant", a.tenant, "category", category, "error", err)
		return out, nil
	}
	for i, id := range ids {
		if v, ok := found[names[i]]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// SetKeys writes keys; nil values delete. Failures are logged and swallowed.
func (a *authState) SetKeys(ctx context.Context, data map[string]map[string][]byte) error {
	entries := make(map[string][]byte)
	for category, ids := range data {
		for id, v := range ids {
			entries[keyName(category, id)] = v
		}
	}
	if len(entries) == 0 {
		return nil
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.isRevoked() {
		return nil
	}
	if err := a.store.SetKeys(ctx, a.tenant, entries); err != nil {
		a.logger.Error("writing auth keys", "tenant", a.tenant, "count", len(entries), "error", err)
	}
	return nil
}

// updateCredentials replaces the cached blob. Persisting is separate so the
// dispatcher never waits on the store.
func (a *authState) updateCredentials(creds []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.revoked {
		return
	}
	a.creds = creds
}

// persist saves the current credentials unless the state was revoked.
func (a *authState) persist(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.RLock()
	creds, revoked := a.creds, a.revoked
	a.mu.RUnlock()
	if revoked || len(creds) == 0 {
		return nil
	}
	return a.store.SaveCredentials(ctx, a.tenant, creds)
}

// revoke fences off further writes and waits for any in-progress write to
// finish. After it returns, purging the store cannot race a save.
func (a *authState) revoke() {
	a.mu.Lock()
	a.revoked = true
	a.creds = nil
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
}
