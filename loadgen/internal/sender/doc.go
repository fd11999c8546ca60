// Package sender POSTs generated telemetry to the processor at a fixed rate
// and records the latency and outcome of every request.
//
// Messages are routed to workers by car so that the samples of one car are
// always delivered in order; the processor treats an older timestamp as a
// window reset.
package sender
