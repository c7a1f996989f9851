package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"listen": ["127.0.0.1:7001", "127.0.0.1:7002"], "metrics": "127.0.0.1:9100"},
		"world": {"players": 8, "handshake": "3s", "rate": 20}
	}`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"127.0.0.1:7001", "127.0.0.1:7002"}, cfg.Listen)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics)
	assert.Equal(t, 8, cfg.World.MaxPlayers)
	assert.Equal(t, 3*time.Second, cfg.World.HandshakeTimeout)
	assert.Equal(t, float64(20), cfg.World.InputRate)

	// Unset keys keep their defaults
	assert.Equal(t, defaultIdleTimeout, cfg.World.IdleTimeout)
	assert.Equal(t, defaultMaxFrame, cfg.World.MaxFrame)
	assert.Equal(t, defaultQueueLength, cfg.World.QueueLength)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, []string{defaultListen}, cfg.Listen)
	assert.Empty(t, cfg.Metrics)
	assert.Equal(t, defaultMaxPlayers, cfg.World.MaxPlayers)
	assert.Equal(t, defaultHandshakeTimeout, cfg.World.HandshakeTimeout)
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"metrics": "127.0.0.1:9100"}}`), 0o600))

	t.Setenv("ARENA_SERVER_METRICS", "127.0.0.1:9200")
	t.Setenv("ARENA_SERVER_LISTEN", "127.0.0.1:7001, 127.0.0.1:7002")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics)
	assert.Equal(t, []string{"127.0.0.1:7001", "127.0.0.1:7002"}, cfg.Listen)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitList(" a:1 ,, b:2 "))
	assert.Equal(t, []string{defaultListen}, splitList(" , "))
}

func TestWorldConfig_WithDefaults(t *testing.T) {
	cfg := WorldConfig{MaxPlayers: 2, IdleTimeout: -time.Second, InputRate: -1}.withDefaults()

	assert.Equal(t, 2, cfg.MaxPlayers)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.InputRate)
	assert.Equal(t, defaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, defaultInputBurst, cfg.InputBurst)
}
