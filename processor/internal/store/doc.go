// Package store keeps the latest processing result of every car, the
// "board" read by the REST API and the WebSocket hub. Entries are evicted
// when a car has been silent for longer than the configured TTL.
package store
