package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSample is returned when a payload cannot be turned into a Sample:
// the car identifier is missing or the timestamp is not a valid instant.
var ErrInvalidSample = errors.New("invalid telemetry sample")

// Signal names one numeric telemetry channel.
type Signal string

// Monitored signals. Brake and tire temperatures are per corner.
const (
	BrakeTempFL   Signal = "brake_temp_fl"
	BrakeTempFR   Signal = "brake_temp_fr"
	BrakeTempRL   Signal = "brake_temp_rl"
	BrakeTempRR   Signal = "brake_temp_rr"
	TireTempFL    Signal = "tire_temp_fl"
	TireTempFR    Signal = "tire_temp_fr"
	TireTempRL    Signal = "tire_temp_rl"
	TireTempRR    Signal = "tire_temp_rr"
	EngineTemp    Signal = "engine_temp"
	Speed         Signal = "speed"
	TireWear      Signal = "tire_wear"
	BrakePressure Signal = "brake_pressure"
)

// BrakeTemps lists the four brake temperature signals in corner order.
var BrakeTemps = []Signal{BrakeTempFL, BrakeTempFR, BrakeTempRL, BrakeTempRR}

// TireTemps lists the four tire temperature signals in corner order.
var TireTemps = []Signal{TireTempFL, TireTempFR, TireTempRL, TireTempRR}

// knownSignals is the full monitored set, used to validate detection rules.
var knownSignals = map[Signal]bool{
	BrakeTempFL: true, BrakeTempFR: true, BrakeTempRL: true, BrakeTempRR: true,
	TireTempFL: true, TireTempFR: true, TireTempRL: true, TireTempRR: true,
	EngineTemp: true, Speed: true, TireWear: true, BrakePressure: true,
}

// Known reports whether s is one of the monitored signals.
func Known(s Signal) bool { return knownSignals[s] }

// Sample is one validated telemetry record for a single car at a single
// instant.
type Sample struct {
	CarID        string
	Driver       string
	Lap          int // 0 when the payload does not report a lap
	TireCompound string

	// Timestamp is the instant the reading was taken on the car. Detection
	// windows are measured on this clock, not on ReceivedAt.
	Timestamp  time.Time
	ReceivedAt time.Time

	// Readings holds every numeric signal present in the payload. Signals that
	// are not in the monitored set are carried through unchanged.
	Readings map[Signal]float64

	// Size is the encoded payload size in bytes, 0 when not decoded from wire.
	Size int
}

// Value returns the reading for sig and whether it was present.
func (s *Sample) Value(sig Signal) (float64, bool) {
	if s == nil || s.Readings == nil {
		return 0, false
	}
	v, ok := s.Readings[sig]
	return v, ok
}

// Validate checks the invariants every Sample must satisfy before it enters
// the pipeline.
func (s *Sample) Validate() error {
	if s == nil {
		return fmt.Errorf("telemetry: %w: nil sample", ErrInvalidSample)
	}
	if s.CarID == "" {
		return fmt.Errorf("telemetry: %w: missing car_id", ErrInvalidSample)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("telemetry: %w: missing timestamp", ErrInvalidSample)
	}
	if s.Lap < 0 {
		return fmt.Errorf("telemetry: %w: negative lap %d", ErrInvalidSample, s.Lap)
	}
	return nil
}
