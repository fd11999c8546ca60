package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// payloadFields maps wire field names to monitored signals. Both the unit
// suffixed names emitted by the car simulators and the bare signal names are
// accepted.
var payloadFields = map[string]Signal{
	"brake_temp_fl_celsius": BrakeTempFL,
	"brake_temp_fr_celsius": BrakeTempFR,
	"brake_temp_rl_celsius": BrakeTempRL,
	"brake_temp_rr_celsius": BrakeTempRR,
	"tire_temp_fl_celsius":  TireTempFL,
	"tire_temp_fr_celsius":  TireTempFR,
	"tire_temp_rl_celsius":  TireTempRL,
	"tire_temp_rr_celsius":  TireTempRR,
	"engine_temp_celsius":   EngineTemp,
	"speed_kmh":             Speed,
	"tire_wear_percent":     TireWear,
	"brake_pressure_bar":    BrakePressure,
}

// metaFields are decoded into Sample fields and never become readings.
var metaFields = map[string]bool{
	"car_id":        true,
	"vehicle_id":    true,
	"driver":        true,
	"lap":           true,
	"tire_compound": true,
	"timestamp":     true,
}

// naiveLayouts are tried, in order, for timestamps without a zone offset.
// Such timestamps are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Decode parses one JSON telemetry payload. receivedAt is stamped on the
// returned Sample. Non-numeric signal values are treated as absent; a missing
// car identifier or an unparseable timestamp yields ErrInvalidSample.
func Decode(data []byte, receivedAt time.Time) (*Sample, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("telemetry: %w: %v", ErrInvalidSample, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("telemetry: %w: payload is not an object", ErrInvalidSample)
	}

	s := &Sample{
		ReceivedAt: receivedAt,
		Readings:   make(map[Signal]float64, len(raw)),
		Size:       len(data),
	}

	s.CarID = stringField(raw, "car_id")
	if s.CarID == "" {
		s.CarID = stringField(raw, "vehicle_id")
	}
	s.Driver = stringField(raw, "driver")
	s.TireCompound = stringField(raw, "tire_compound")
	// Laps outside the int32 range are dropped rather than converted.
	if lap, ok := numberField(raw["lap"]); ok && lap > 0 && lap <= math.MaxInt32 {
		s.Lap = int(lap)
	}

	ts, err := parseTimestamp(raw["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w: %v", ErrInvalidSample, err)
	}
	s.Timestamp = ts

	for k, v := range raw {
		if metaFields[k] {
			continue
		}
		f, ok := numberField(v)
		if !ok {
			continue
		}
		if sig, known := payloadFields[k]; known {
			s.Readings[sig] = f
			continue
		}
		s.Readings[Signal(k)] = f
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func numberField(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseTimestamp accepts RFC 3339 strings, zone-less ISO 8601 strings and
// numeric Unix epoch seconds.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("missing timestamp")
	case json.Number:
		secs, err := t.Float64()
		if err != nil || secs <= 0 || math.IsInf(secs, 0) {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %q", t.String())
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, nil
		}
		for _, layout := range naiveLayouts {
			if ts, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	default:
		return time.Time{}, fmt.Errorf("timestamp has unsupported type %T", v)
	}
}
