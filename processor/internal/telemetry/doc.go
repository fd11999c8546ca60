// Package telemetry defines the validated per-car telemetry record that the
// detector and the pit-stop scorer consume, and decodes inbound JSON payloads
// into it.
//
// A Sample carries an optional reading for every monitored Signal. Readings
// that are missing, null or non-numeric in the payload are simply absent from
// Sample.Readings; downstream consumers treat an absent reading as "no data"
// rather than as zero.
package telemetry
