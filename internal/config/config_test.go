package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "does-not-exist.yaml")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "session-token", cfg.Auth.CookieName)
	assert.Equal(t, "local", cfg.Bridge.Driver)
	assert.Equal(t, 40*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, "memory", cfg.Calls.SessionStore)
	assert.NotEmpty(t, cfg.Server.NodeID)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9999")
	t.Setenv("BRIDGE_DRIVER", "nats")
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("CALL_RING_TIMEOUT", "5s")
	t.Setenv("NODE_ID", "node-a")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "nats", cfg.Bridge.Driver)
	assert.Equal(t, "nats://bus:4222", cfg.Bridge.URL)
	assert.Equal(t, 5*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, "node-a", cfg.Server.NodeID)
	assert.Equal(t, "nats", cfg.Calls.SessionStore, "nodes on a nats bridge share call sessions")
}

func TestLoadRejectsMemorySessionsOnNATSBridge(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BRIDGE_DRIVER", "nats")
	t.Setenv("CALL_SESSION_STORE", "memory")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CALL_SESSION_STORE=memory")
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.JWTSecret = "x"
	require.Error(t, cfg.Validate(), "session store must be resolved first")
	cfg.resolveSessionStore()
	require.NoError(t, cfg.Validate())

	cfg.Bridge.Driver = "redis"
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Auth.JWTSecret = "x"
	cfg.Bridge.Driver = "nats"
	cfg.Calls.SessionStore = "memory"
	require.Error(t, cfg.Validate(), "memory sessions are per node")

	cfg = defaultConfig()
	cfg.Auth.JWTSecret = "x"
	cfg.Calls.SessionStore = "nats"
	require.Error(t, cfg.Validate(), "kv session store needs the nats bridge")

	cfg = defaultConfig()
	cfg.Auth.JWTSecret = "x"
	cfg.resolveSessionStore()
	cfg.Store.Driver = "cassandra"
	require.Error(t, cfg.Validate())
}
