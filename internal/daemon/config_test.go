package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 262144, cfg.Transfer.ChunkSize)
	require.Equal(t, 10, cfg.Transfer.MaxChunksPerSource)
	require.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Network.STUNURLs)
	require.Empty(t, cfg.Network.TURNURLs, "no TURN server should be configured by default: callers must set one explicitly")
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, 9090, cfg.Metrics.Port)
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRANSFERD_HOME", dir)

	cfg := DefaultConfig()
	cfg.Node.ID = "test-node"
	cfg.Network.TURNURLs = []string{"turn:turn.example.com:3478"}
	cfg.Network.TURNUsername = "alice"

	require.NoError(t, SaveConfig(cfg))
	require.FileExists(t, filepath.Join(dir, "config.toml"))

	loaded, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "test-node", loaded.Node.ID)
	require.Equal(t, []string{"turn:turn.example.com:3478"}, loaded.Network.TURNURLs)
	require.Equal(t, "alice", loaded.Network.TURNUsername)
}

func TestLoadConfigFallsBackToDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRANSFERD_HOME", dir)

	_, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.True(t, os.IsNotExist(err))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Transfer.ChunkSize, cfg.Transfer.ChunkSize)
}
