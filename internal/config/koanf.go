package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chat-realtime/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

// envMappings maps flat environment variable names onto koanf paths.
var envMappings = map[string]string{
	"port":             "server.port",
	"grpc_port":        "server.grpc_port",
	"node_id":          "server.node_id",
	"environment":      "server.environment",
	"debug_routes":     "server.debug_routes",
	"shutdown_timeout": "server.shutdown_timeout",

	"jwt_secret":          "auth.jwt_secret",
	"auth_cookie_name":    "auth.cookie_name",
	"bridge_driver":       "bridge.driver",
	"nats_url":            "bridge.url",
	"bridge_subject":      "bridge.subject",
	"nats_max_reconnect":  "bridge.max_reconnects",
	"nats_reconnect_wait": "bridge.reconnect_wait",

	"amqp_url":      "queue.amqp_url",
	"amqp_exchange": "queue.exchange",

	"store_driver":   "store.driver",
	"mongo_uri":      "store.mongo_uri",
	"mongo_database": "store.mongo_database",
	"db_dsn":         "store.postgres_dsn",

	"call_ring_timeout":  "calls.ring_timeout",
	"call_session_store": "calls.session_store",
	"call_kv_bucket":     "calls.kv_bucket",

	"ws_send_buffer":       "realtime.send_buffer",
	"ws_events_per_second": "realtime.events_per_second",
	"ws_event_burst":       "realtime.event_burst",
	"ws_write_timeout":     "realtime.write_timeout",
	"ws_pong_wait":         "realtime.pong_wait",
	"ws_max_message_bytes": "realtime.max_message_bytes",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"otel_exporter_otlp_endpoint": "tracing.otlp_endpoint",
	"otel_service_name":           "tracing.service_name",
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = uuid.NewString()
	}
	cfg.resolveSessionStore()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform returns "" for unmapped variables so unrelated environment
// does not leak into the config tree.
func envTransform(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
