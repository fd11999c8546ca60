// Package generator produces deterministic synthetic car telemetry in the
// processor's JSON payload format.
//
// Each car carries its own virtual clock advancing by a fixed interval per
// sample, so detection windows see the same durations regardless of how fast
// the payloads are actually sent. With a fixed seed the sequence of payloads
// is reproducible. Injected overheats push one signal group above the
// processor's stock thresholds for a configurable number of consecutive
// samples.
package generator
