package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point the search away from any real config on the machine.
	cfg, err := LoadWithPath(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "./data/ovpn-control.db", cfg.DB.Path)
	assert.Equal(t, 25, cfg.DB.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.DB.ConnMaxLifetime)
	assert.Equal(t, 30*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.SSH.TaskTimeout)
	assert.Equal(t, time.Minute, cfg.Monitor.StatusInterval)
	assert.Equal(t, 10*time.Second, cfg.Monitor.ConnectionInterval)
	assert.Equal(t, "/usr/local/share/ovpn-control/ovpn-agent", cfg.Agent.BinaryPath)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
db:
  path: /var/lib/ovpn/control.db
ssh:
  task_timeout: 20m
monitor:
  status_interval: 2m
`)
	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/var/lib/ovpn/control.db", cfg.DB.Path)
	assert.Equal(t, 20*time.Minute, cfg.SSH.TaskTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.StatusInterval)
	// Unset values keep their defaults.
	assert.Equal(t, time.Minute, cfg.SSH.CommandTimeout)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OVPN_CONTROL_LOG_LEVEL", "warn")
	t.Setenv("OVPN_CONTROL_DB_PATH", "/tmp/env.db")

	cfg, err := LoadWithPath(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/env.db", cfg.DB.Path)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad log level", "log:\n  level: verbose\n"},
		{"empty db path", "db:\n  path: \"\"\n"},
		{"task timeout below command timeout", "ssh:\n  task_timeout: 1s\n  command_timeout: 60s\n"},
		{"zero monitor interval", "monitor:\n  status_interval: 0s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadWithPath(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
