package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Finalizer.Deadline)
	assert.Equal(t, 2*time.Hour, cfg.Bridge.TokenTTL)
	assert.Equal(t, "memory", cfg.Fleet.Queue)
	assert.Equal(t, 5, cfg.Fleet.Callbacks.MaxAttempts)
	assert.Contains(t, cfg.LLM.Providers, "openai")
	assert.False(t, cfg.RemoteEnabled())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
  public_url: "https://discover.example.com/"
finalizer:
  deadline: 45m
fleet:
  queue: redis
  workers: 8
events:
  sinks: [nats]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 45*time.Minute, cfg.Finalizer.Deadline)
	assert.Equal(t, "redis", cfg.Fleet.Queue)
	assert.Equal(t, 8, cfg.Fleet.Workers)
	assert.Equal(t, []string{"nats"}, cfg.Events.Sinks)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Fleet.PollWait)
	assert.Equal(t, "https://discover.example.com/api/v1/bridge/callbacks", cfg.CallbackURL())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9999\"\n")
	t.Setenv("DISCOVER_SERVER_ADDR", ":7000")
	t.Setenv("DISCOVER_BRIDGE_FLEET_URL", "http://fleet:8090")
	t.Setenv("DISCOVER_BRIDGE_TOKEN_SECRET", "s3cret")
	t.Setenv("DISCOVER_ORCHESTRATOR_LOCAL_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Bridge.TokenSecret)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.LocalTimeout)
	assert.True(t, cfg.RemoteEnabled())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"bad queue", "fleet:\n  queue: kafka\n", ErrInvalidQueue},
		{"bad sink", "events:\n  sinks: [kafka]\n", ErrInvalidSink},
		{"token outlived by deadline", "finalizer:\n  deadline: 3h\n", ErrInvalidValue},
		{"bad level", "logging:\n  level: loud\n", ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_SecretsOnlyFromEnv(t *testing.T) {
	path := writeConfig(t, "bridge:\n  issuer: custom\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Bridge.Issuer)
	assert.Empty(t, cfg.Bridge.TokenSecret)
	assert.Empty(t, cfg.Server.OperatorKey)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	LoggingConfig{Level: "debug", Format: "text"}.NewLogger(&buf).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	level, err := ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}
