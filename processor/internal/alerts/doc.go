// Package alerts turns processing results into alerts and delivers them to
// Slack, Teams or generic HTTP webhooks.
//
// Two kinds of alert exist. Anomaly alerts are edge-triggered: the detector
// reports an event on every sample of a qualifying window, and the engine
// fires once per (car, category, window start) and resolves the alert when
// the category's window closes. Rule alerts evaluate a configured condition
// against the latest assessment and are subject to a per-rule cooldown.
package alerts
