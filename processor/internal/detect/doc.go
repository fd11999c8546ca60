// Package detect flags sustained threshold violations in per-car telemetry.
//
// Every monitored signal of a car owns at most one open window.Window. A
// reading strictly above the rule threshold opens or extends the window; a
// reading at or below it closes the window. Once a window spans at least
// MinDuration of sample time the Detector emits a critical Event, and keeps
// emitting one on every further qualifying sample for as long as the window
// stays open. Consumers that want a single notification per run key on
// (car, category, WindowStart).
//
// A sample whose timestamp precedes the window's last observation resets the
// window. This is logged and counted, never returned as an error.
//
// Detector state is partitioned per car: a short map lock guards the car
// index and each car carries its own mutex, so distinct cars never contend on
// evaluation. Evict drops stale windows and idle cars.
package detect
