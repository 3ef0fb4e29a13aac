package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_LoadEnvOverrides_AppliesKnownVariables(t *testing.T) {
	t.Setenv("AMPD_SOCKET", "/tmp/override.sock")
	t.Setenv("AMPD_METHODS", "ping, uptime")
	t.Setenv("AMPD_RESPONSE_TIMEOUT", "5s")
	t.Setenv("AMPD_PENDING_TIMEOUT", "10s")
	t.Setenv("AMPD_BACKOFF_INITIAL", "250ms")
	t.Setenv("AMPD_BACKOFF_MAX", "30s")
	t.Setenv("AMPD_RETRY_ON_RECONNECT", "false")
	t.Setenv("AMPD_GOGC", "50")

	cfg := &Config{
		SocketPath:       "/run/ampd.sock",
		RetryOnReconnect: true,
		GOGC:             200,
	}
	cfg.LoadEnvOverrides()

	assert.Equal(t, "/tmp/override.sock", cfg.SocketPath)
	assert.Equal(t, []string{"ping", "uptime"}, cfg.Methods)
	assert.Equal(t, 5*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 10*time.Second, cfg.PendingTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffInitialDelay)
	assert.Equal(t, 30*time.Second, cfg.BackoffMaxDelay)
	assert.False(t, cfg.RetryOnReconnect)
	assert.Equal(t, 50, cfg.GOGC)
}

func TestConfig_LoadEnvOverrides_LeavesDefaultsWhenUnset(t *testing.T) {
	cfg := &Config{
		SocketPath: "/run/ampd.sock",
		GOGC:       200,
	}
	cfg.LoadEnvOverrides()

	assert.Equal(t, "/run/ampd.sock", cfg.SocketPath)
	assert.Nil(t, cfg.Methods)
	assert.Equal(t, 200, cfg.GOGC)
}

func TestConfig_LoadEnvOverrides_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("AMPD_RESPONSE_TIMEOUT", "not-a-duration")
	t.Setenv("AMPD_GOGC", "not-an-int")

	cfg := &Config{ResponseTimeout: 60 * time.Second, GOGC: 200}
	cfg.LoadEnvOverrides()

	assert.Equal(t, 60*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 200, cfg.GOGC)
}
