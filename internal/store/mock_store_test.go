// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Runs the shared suite and checks injected failures and copy semantics

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Suite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMockStore() })
}

func TestMockStore_SetErr(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("db down")

	m.SetErr(boom)
	_, err := m.LoadAuth(ctx, "acme")
	assert.ErrorIs(t, err, boom)
	_, err = m.GetQuotaCount(ctx, "acme", "1", "2026-01-01")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)

	m.SetErr(nil)
	assert.NoError(t, m.Ping(ctx))
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	creds := []byte("abc")
	require.NoError(t, m.SaveCredentials(ctx, "acme", creds))
	creds[0] = 'X'

	rec, err := m.LoadAuth(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(rec.Credentials))

	rec.Credentials[0] = 'Y'
	again, err := m.LoadAuth(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Credentials))
}

func TestMockStore_KeyCount(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.SetKeys(ctx, "acme", map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
	assert.Equal(t, 2, m.KeyCount("acme"))
	require.NoError(t, m.ClearAuth(ctx, "acme"))
	assert.Equal(t, 0, m.KeyCount("acme"))
}
