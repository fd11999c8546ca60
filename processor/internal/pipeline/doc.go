// Package pipeline wires the detector and the pit-stop scorer into a single
// synchronous Process call per sample.
//
// Process runs detection first, feeds the car's resulting active-anomaly
// count to the scorer, records metrics and hands the combined Result to every
// subscribed Listener (board, alerts, WebSocket hub, persistence writer).
// Listeners are called inline and must not block.
//
// Run drives periodic eviction of idle cars and stale windows and returns
// when its context is cancelled.
package pipeline
