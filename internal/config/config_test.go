package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		// Setenv registers the restore; Unsetenv then removes the value.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t,
		"ONIONTALK_RELAY_URL",
		"ONIONTALK_CREATE_ROOMS",
		"ONIONTALK_DIAL_TIMEOUT",
		"ONIONTALK_PING_INTERVAL",
		"ONIONTALK_WRITE_TIMEOUT",
		"ONIONTALK_LOG_LEVEL",
	)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.RelayURL)
	require.True(t, cfg.CreateRooms)
	require.Equal(t, 10*time.Second, cfg.DialTimeout)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.Equal(t, 10*time.Second, cfg.WriteTimeout)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ONIONTALK_RELAY_URL", "https://relay.example/chat/")
	t.Setenv("ONIONTALK_CREATE_ROOMS", "false")
	t.Setenv("ONIONTALK_DIAL_TIMEOUT", "3s")
	t.Setenv("ONIONTALK_PING_INTERVAL", "0s")
	t.Setenv("ONIONTALK_WRITE_TIMEOUT", "2s")
	t.Setenv("ONIONTALK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.CreateRooms)
	require.Equal(t, 3*time.Second, cfg.DialTimeout)
	require.Zero(t, cfg.PingInterval)
	require.Equal(t, 2*time.Second, cfg.WriteTimeout)
	require.Equal(t, "debug", cfg.LogLevel)

	ws, err := cfg.WebSocketURL()
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example/chat/ws", ws)
}

func TestLoadRejectsBadRelay(t *testing.T) {
	unsetEnv(t, "ONIONTALK_CREATE_ROOMS", "ONIONTALK_DIAL_TIMEOUT",
		"ONIONTALK_PING_INTERVAL", "ONIONTALK_WRITE_TIMEOUT")
	t.Setenv("ONIONTALK_RELAY_URL", "ftp://relay.example")
	_, err := Load()
	require.ErrorContains(t, err, "scheme")
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	unsetEnv(t, "ONIONTALK_RELAY_URL", "ONIONTALK_DIAL_TIMEOUT", "ONIONTALK_WRITE_TIMEOUT")
	t.Setenv("ONIONTALK_PING_INTERVAL", "-1s")
	_, err := Load()
	require.ErrorContains(t, err, "ping interval")

	t.Setenv("ONIONTALK_PING_INTERVAL", "30s")
	t.Setenv("ONIONTALK_DIAL_TIMEOUT", "0s")
	_, err = Load()
	require.ErrorContains(t, err, "timeouts must be positive")
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		relay string
		want  string
	}{
		{relay: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{relay: "https://relay.example", want: "wss://relay.example/ws"},
		{relay: "http://10.0.0.1:9000/?x=1", want: "ws://10.0.0.1:9000/ws"},
	}
	for _, tc := range tests {
		cfg := Config{RelayURL: tc.relay}
		got, err := cfg.WebSocketURL()
		require.NoError(t, err)
		require.Equal(t, tc.want, got, tc.relay)
	}
}
