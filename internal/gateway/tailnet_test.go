// ABOUTME: Tests for tailnet listener setup that do not need a tailnet
// ABOUTME: Covers state directory resolution and node construction

package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wa-gateway/internal/config"
)

func TestTailnetStateDir(t *testing.T) {
	dir, err := tailnetStateDir("/var/lib/wa/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wa/ts", dir)

	t.Setenv("HOME", "/home/ops")
	dir, err = tailnetStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/ops", ".local", "share", "wa-gateway", "tailscale"), dir)
}

func TestNewTailnetServer(t *testing.T) {
	tg := newTestGateway(t)
	stateDir := filepath.Join(t.TempDir(), "ts")

	t.Setenv("TS_AUTHKEY", "tskey-from-env")
	srv, err := tg.gw.newTailnetServer(config.TailscaleConfig{Hostname: "wa", StateDir: stateDir, Ephemeral: true})
	require.NoError(t, err)
	assert.Equal(t, "tskey-from-env", srv.AuthKey)
	assert.Equal(t, stateDir, srv.Dir)
	assert.True(t, srv.Ephemeral)
	assert.DirExists(t, stateDir)

	srv, err = tg.gw.newTailnetServer(config.TailscaleConfig{Hostname: "wa", StateDir: stateDir, AuthKey: "tskey-config"})
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", srv.AuthKey)
}
