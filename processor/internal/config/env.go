package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides lets deployments override the most commonly tuned
// settings without editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("PITWALL_HTTP_PORT"); ok {
		cfg.Server.HTTPPort = v
	}
	if v, ok := envInt("PITWALL_GRPC_PORT"); ok {
		cfg.Server.GRPCPort = v
	}
	if v := os.Getenv("PITWALL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PITWALL_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = v == "json"
	}
	if v, ok := envDuration("PITWALL_MIN_DURATION"); ok {
		cfg.Detector.MinDuration = v
	}
	if v, ok := envBool("PITWALL_MQTT_ENABLED"); ok {
		cfg.MQTT.Enabled = v
	}
	if v := os.Getenv("PITWALL_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("PITWALL_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v, ok := envBool("PITWALL_POSTGRES_ENABLED"); ok {
		cfg.Postgres.Enabled = v
	}
	if v, ok := envBool("PITWALL_REDIS_ENABLED"); ok {
		cfg.Redis.Enabled = v
	}
	if v := os.Getenv("PITWALL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring non-integer env override", "key", key, "value", v)
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring non-boolean env override", "key", key, "value", v)
		return false, false
	}
	return b, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: ignoring invalid duration env override", "key", key, "value", v)
		return 0, false
	}
	return d, true
}
