package config

import (
	"errors"
	"fmt"
)

// Validate checks that required settings are present and that enumerated
// settings hold a known value.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.CookieName == "" {
		return errors.New("auth cookie name must not be empty")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}

	switch c.Bridge.Driver {
	case "local":
	case "nats":
		if c.Bridge.URL == "" {
			return errors.New("NATS_URL is required when BRIDGE_DRIVER=nats")
		}
	default:
		return fmt.Errorf("unknown bridge driver %q", c.Bridge.Driver)
	}
	if c.Bridge.Subject == "" {
		return errors.New("bridge subject must not be empty")
	}

	switch c.Store.Driver {
	case "none", "mongo", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Calls.SessionStore {
	case "memory":
		if c.Bridge.Driver == "nats" {
			return errors.New("CALL_SESSION_STORE=memory cannot be shared between nodes, use nats with BRIDGE_DRIVER=nats")
		}
	case "nats":
		if c.Bridge.Driver != "nats" {
			return errors.New("CALL_SESSION_STORE=nats requires BRIDGE_DRIVER=nats")
		}
	default:
		return fmt.Errorf("unknown call session store %q", c.Calls.SessionStore)
	}
	if c.Calls.RingTimeout <= 0 {
		return errors.New("call ring timeout must be positive")
	}

	if c.Realtime.SendBuffer <= 0 {
		return errors.New("websocket send buffer must be positive")
	}
	if c.Realtime.WriteTimeout <= 0 || c.Realtime.PongWait <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	return nil
}

// resolveSessionStore picks the call session store matching the bridge when
// none was configured: nodes sharing a NATS bridge must share call state.
func (c *Config) resolveSessionStore() {
	if c.Calls.SessionStore != "" {
		return
	}
	c.Calls.SessionStore = "memory"
	if c.Bridge.Driver == "nats" {
		c.Calls.SessionStore = "nats"
	}
}
