package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.InactivityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.SweepInterval)
	assert.True(t, cfg.Sessions.DeleteEmptyOnLeave)
	assert.Equal(t, time.Second, cfg.Rounds.TickInterval)
	assert.Equal(t, 3*time.Second, cfg.Rounds.GraceDelay)
	assert.Equal(t, 10, cfg.RateLimit.CreateLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.CreateWindow)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.NotEmpty(t, cfg.ICEServers)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
sessions:
  inactivity_threshold: 5m
rounds:
  grace_delay: 500ms
ice_servers:
  - turn:turn.example.org:3478
`), 0o600))

	t.Setenv("TANDEM_PORT", "9100")
	t.Setenv("TANDEM_SESSIONS_DELETE_EMPTY_ON_LEAVE", "false")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.InactivityThreshold)
	assert.False(t, cfg.Sessions.DeleteEmptyOnLeave)
	assert.Equal(t, 500*time.Millisecond, cfg.Rounds.GraceDelay)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, cfg.ICEServers)
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 0\nrounds:\n  tick_interval: 0s\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 0 out of range")
	assert.Contains(t, err.Error(), "rounds.tick_interval")
}
