package alerts

import (
	"strconv"
	"strings"

	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

// evalCondition evaluates a rule condition string against a Result.
//
// Supported expressions (field operator value):
//
//	score >= 75
//	urgency == critical
//	active_anomalies >= 2
//	tire_wear > 80
//	speed_loss > 20
//	brake_degradation > 90
//	anomaly_penalty >= 50
//	lap > 50
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, r *pipeline.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "urgency" {
		switch op {
		case "==":
			return r.Assessment.Urgency == rhs, r.Assessment.Score
		case "!=":
			return r.Assessment.Urgency != rhs, r.Assessment.Score
		}
		return false, 0
	}

	v, ok := numericField(field, r)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the result.
func numericField(field string, r *pipeline.Result) (float64, bool) {
	a := r.Assessment
	switch field {
	case "score":
		return a.Score, true
	case "active_anomalies":
		return float64(a.ActiveAnomalies), true
	case "tire_wear":
		return a.Factors.TireWear, true
	case "speed_loss":
		return a.Factors.SpeedLoss, true
	case "brake_degradation":
		return a.Factors.BrakeDegradation, true
	case "anomaly_penalty":
		return a.Factors.AnomalyPenalty, true
	case "lap":
		return float64(r.Lap), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
