// Package config loads the processor configuration from a YAML file, applies
// PITWALL_* environment overrides and validates the result.
//
// Sections:
//   - server: HTTP and gRPC probe ports, graceful shutdown timeout
//   - logging: level and JSON/text output
//   - detector: per-signal thresholds, minimum duration, window TTL
//   - scorer: factor weights, urgency cutoffs, brake band, anomaly penalty
//   - state: car and board TTLs, eviction interval
//   - mqtt: optional MQTT telemetry subscription
//   - postgres: optional event/assessment persistence
//   - redis: optional car-state cache and anomaly pub/sub
//   - alerts: alert rules and webhook targets
//   - hub: WebSocket broadcast interval
//
// Load(path) applies defaults before unmarshalling, then environment
// overrides, then validates. Secrets are never stored in the file: fields
// ending in _env name the environment variable that holds the value.
package config
