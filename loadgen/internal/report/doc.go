// Package report aggregates client-side request outcomes into latency
// percentiles and throughput figures, checks them against pass/fail
// thresholds and renders the final benchmark summary.
package report
