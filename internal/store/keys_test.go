// ABOUTME: Tests for storage key escaping and API key generation
// ABOUTME: Verifies the escape mapping layout and that distinct names never collide

package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeKeyName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"session", "session"},
		{"a/b", "a__b"},
		{"a:b", "a-b"},
		{"pre-key-5", "pre_2Dkey_2D5"},
		{"session-62812:3@s.whatsapp.net", "session_2D62812-3@s.whatsapp.net"},
		{"app-state-sync-key-AAA/BBB", "app_2Dstate_2Dsync_2Dkey_2DAAA__BBB"},
		{"under_score", "under_5Fscore"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeKeyName(tt.in))
		})
	}
}

func TestEscapeKeyName_NoCollisions(t *testing.T) {
	// Pairs that collide under a naive '/'->"__", ':'->'-' mapping.
	pairs := [][2]string{
		{"a-b", "a:b"},
		{"a__b", "a/b"},
		{"x_-y", "x_:y"},
	}
	for _, p := range pairs {
		assert.NotEqual(t, EscapeKeyName(p[0]), EscapeKeyName(p[1]), "%q vs %q", p[0], p[1])
	}
}

func TestGenerateAPIKey(t *testing.T) {
	k1, err := GenerateAPIKey()
	require.NoError(t, err)
	k2, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1, APIKeyPrefix))
	assert.Len(t, k1, len(APIKeyPrefix)+32)
	assert.NotEqual(t, k1, k2)
}
