// Package scraper reads the processor's Prometheus text exposition after a
// load-test run and extracts the message and anomaly counters.
package scraper
