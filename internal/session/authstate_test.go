// ABOUTME: Tests for the store-backed protocol auth state adapter
// ABOUTME: Covers key naming, nil deletes, degraded store reads, and revocation

package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/store"
)

func newTestAuthState(t *testing.T) (*authState, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	rec, err := st.LoadAuth(context.Background(), "acme")
	require.NoError(t, err)
	return newAuthState("acme", rec, st, slog.Default()), st
}

func TestAuthState_KeysRoundTrip(t *testing.T) {
	a, st := newTestAuthState(t)
	ctx := context.Background()

	require.NoError(t, a.SetKeys(ctx, map[string]map[string][]byte{
		"session":        {"62811:3@s.whatsapp.net": []byte("sess")},
		"app-state-sync": {"AAA/BBB": []byte("sync")},
	}))

	raw, err := st.GetKeys(ctx, "acme", []string{"session-62811:3@s.whatsapp.net", "app-state-sync-AAA/BBB"})
	require.NoError(t, err)
	assert.Len(t, raw, 2, "logical names are {category}-{id}")

	got, err := a.GetKeys(ctx, "session", []string{"62811:3@s.whatsapp.net", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"62811:3@s.whatsapp.net": []byte("sess")}, got)

	require.NoError(t, a.SetKeys(ctx, map[string]map[string][]byte{"session": {"62811:3@s.whatsapp.net": nil}}))
	got, err = a.GetKeys(ctx, "session", []string{"62811:3@s.whatsapp.net"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuthState_StoreFailuresDegrade(t *testing.T) {
	a, st := newTestAuthState(t)
	ctx := context.Background()
	st.SetErr(errors.New("disk I/O error"))

	got, err := a.GetKeys(ctx, "pre-key", []string{"1"})
	assert.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, a.SetKeys(ctx, map[string]map[string][]byte{"pre-key": {"1": []byte("k")}}))
}

func TestAuthState_Credentials(t *testing.T) {
	a, st := newTestAuthState(t)
	ctx := context.Background()

	assert.Empty(t, a.Credentials())
	require.NoError(t, a.persist(ctx), "nothing to save yet")

	a.updateCredentials([]byte(`{"me":"62811"}`))
	assert.Equal(t, []byte(`{"me":"62811"}`), a.Credentials())
	require.NoError(t, a.persist(ctx))

	rec, err := st.LoadAuth(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"me":"62811"}`), rec.Credentials)
}

func TestAuthState_RevokeFencesWrites(t *testing.T) {
	a, st := newTestAuthState(t)
	ctx := context.Background()

	a.updateCredentials([]byte("creds"))
	a.revoke()

	assert.Empty(t, a.Credentials())
	a.updateCredentials([]byte("late"))
	assert.Empty(t, a.Credentials())

	require.NoError(t, a.persist(ctx))
	require.NoError(t, a.SetKeys(ctx, map[string]map[string][]byte{"pre-key": {"1": []byte("k")}}))

	rec, err := st.LoadAuth(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, rec.IsFresh())
	assert.Equal(t, 0, st.KeyCount("acme"))
}
