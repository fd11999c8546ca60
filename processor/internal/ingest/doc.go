// Package ingest feeds telemetry from an MQTT broker into the processor.
//
// Subscriber connects with paho, subscribes to the configured topic filter on
// every (re)connect and runs each message through telemetry.Decode and
// Processor.Process on paho's callback goroutine. Payloads that fail to
// decode are logged, counted under transport "mqtt" and dropped.
package ingest
