// Package api implements the processor's HTTP REST API.
//
// New returns an http.Handler that serves:
//
//	GET  /                    service info with uptime and message count
//	POST /telemetry           process one JSON sample, return anomalies and pit-stop advice
//	GET  /health              liveness
//	GET  /stats               uptime, throughput, mean latency, active anomalies
//	GET  /api/v1/cars         every live car on the board ([]CarResponse)
//	GET  /api/v1/cars/{id}    one car with hints and firing alerts; 404 if unknown or stale
//	GET  /api/v1/alerts       firing and recently resolved alerts
//	GET  /api/v1/board        the board as broadcast by the WebSocket hub
//
// Scores and factors are rounded to two decimals at this boundary only;
// the core always classifies on unrounded values.
package api
