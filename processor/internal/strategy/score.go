package strategy

import (
	"errors"
	"fmt"
	"math"
)

// Urgency tiers returned by the score calculator.
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyMedium   = "medium"
	UrgencyLow      = "low"
)

// recommendations maps each urgency tier to the advice shown to the pit wall.
var recommendations = map[string]string{
	UrgencyCritical: "Box now: immediate pit stop required",
	UrgencyHigh:     "Pit stop strongly recommended next lap",
	UrgencyMedium:   "Plan pit stop within the next 3-5 laps",
	UrgencyLow:      "Stay out, normal monitoring",
}

// Recommendation returns the advice text for an urgency tier.
func Recommendation(urgency string) string { return recommendations[urgency] }

// weightSumTolerance is how far the weights may drift from 1.0.
const weightSumTolerance = 1e-9

// Weights are the factor weights of the score formula. They must sum to 1.0.
type Weights struct {
	TireWear         float64
	SpeedLoss        float64
	BrakeDegradation float64
	AnomalyPenalty   float64
}

// Sum returns the total of all four weights.
func (w Weights) Sum() float64 {
	return w.TireWear + w.SpeedLoss + w.BrakeDegradation + w.AnomalyPenalty
}

// Cutoffs are the minimum scores of the critical, high and medium tiers.
type Cutoffs struct {
	Critical float64
	High     float64
	Medium   float64
}

// Band is the temperature range mapped linearly onto 0–100 brake degradation.
type Band struct {
	Low  float64
	High float64
}

// Config is the immutable scorer configuration.
type Config struct {
	Weights   Weights
	Cutoffs   Cutoffs
	BrakeBand Band

	// PenaltyPerAnomaly is the anomaly-penalty factor contributed by each
	// active anomaly. The factor is capped at 100.
	PenaltyPerAnomaly float64
}

// DefaultConfig returns the stock weights (0.40/0.30/0.20/0.10), cutoffs
// (90/75/50), brake band 300–950 °C and a penalty of 25 per anomaly.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			TireWear:         0.40,
			SpeedLoss:        0.30,
			BrakeDegradation: 0.20,
			AnomalyPenalty:   0.10,
		},
		Cutoffs:           Cutoffs{Critical: 90, High: 75, Medium: 50},
		BrakeBand:         Band{Low: 300, High: 950},
		PenaltyPerAnomaly: 25,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	for _, wt := range []struct {
		name string
		v    float64
	}{
		{"tire_wear", w.TireWear},
		{"speed_loss", w.SpeedLoss},
		{"brake_degradation", w.BrakeDegradation},
		{"anomaly_penalty", w.AnomalyPenalty},
	} {
		if wt.v < 0 {
			errs = append(errs, fmt.Errorf("weight %s must be >= 0, got %g", wt.name, wt.v))
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("weights must sum to 1.0, got %g", sum))
	}

	cut := c.Cutoffs
	if !(cut.Critical > cut.High && cut.High > cut.Medium) {
		errs = append(errs, fmt.Errorf("cutoffs must satisfy critical > high > medium, got %g/%g/%g",
			cut.Critical, cut.High, cut.Medium))
	}
	if cut.Medium <= 0 || cut.Critical > 100 {
		errs = append(errs, fmt.Errorf("cutoffs must lie within (0, 100], got %g/%g/%g",
			cut.Critical, cut.High, cut.Medium))
	}

	if c.BrakeBand.Low >= c.BrakeBand.High {
		errs = append(errs, fmt.Errorf("brake band low (%g) must be below high (%g)",
			c.BrakeBand.Low, c.BrakeBand.High))
	}
	if c.PenaltyPerAnomaly < 0 {
		errs = append(errs, fmt.Errorf("anomaly penalty must be >= 0, got %g", c.PenaltyPerAnomaly))
	}
	return errors.Join(errs...)
}

// Input holds the raw values fed into the score formula.
type Input struct {
	// TireWearPct is the reported tire wear in percent. 0 when not reported.
	TireWearPct float64

	// SpeedLossPct is the percentage by which the current speed is below the
	// highest speed of the current lap. 0 when either is unknown.
	SpeedLossPct float64

	// BrakeTempMean is the mean of the reported brake temperatures.
	// Ignored unless HasBrakeTemp is set.
	BrakeTempMean float64
	HasBrakeTemp  bool

	// ActiveAnomalies is the number of open detection windows for the car.
	ActiveAnomalies int
}

// Factors are the four unweighted score components, each 0–100.
type Factors struct {
	TireWear         float64
	SpeedLoss        float64
	BrakeDegradation float64
	AnomalyPenalty   float64
}

// Output is the result of the score calculation.
type Output struct {
	// Score is the composite urgency in the range 0–100.
	Score float64

	// Urgency is the tier derived from Score.
	// One of: "critical", "high", "medium", "low".
	Urgency        string
	Recommendation string
	Factors        Factors
}

// Compute calculates the pit-stop urgency from the given inputs.
//
// Formula:
//
//	score = tire_wear          * w_tire    +
//	        speed_loss         * w_speed   +   // relative to lap-max speed
//	        brake_degradation  * w_brake   +   // mean brake temp over band
//	        anomaly_penalty    * w_anomaly     // min(100, n * penalty)
//
// Each factor is clamped to [0, 100] before weighting and the weighted sum is
// clamped again. Missing data contributes 0.
func (c Config) Compute(in Input) Output {
	f := Factors{
		TireWear:       clamp100(in.TireWearPct),
		SpeedLoss:      clamp100(in.SpeedLossPct),
		AnomalyPenalty: clamp100(float64(in.ActiveAnomalies) * c.PenaltyPerAnomaly),
	}
	if in.HasBrakeTemp {
		span := c.BrakeBand.High - c.BrakeBand.Low
		f.BrakeDegradation = clamp100((in.BrakeTempMean - c.BrakeBand.Low) / span * 100)
	}

	w := c.Weights
	score := clamp100(f.TireWear*w.TireWear +
		f.SpeedLoss*w.SpeedLoss +
		f.BrakeDegradation*w.BrakeDegradation +
		f.AnomalyPenalty*w.AnomalyPenalty)

	urgency := c.urgencyFromScore(score)
	return Output{
		Score:          score,
		Urgency:        urgency,
		Recommendation: recommendations[urgency],
		Factors:        f,
	}
}

// Compute scores in with the stock configuration.
func Compute(in Input) Output { return DefaultConfig().Compute(in) }

// urgencyFromScore maps a numeric score to a named urgency tier.
func (c Config) urgencyFromScore(score float64) string {
	switch {
	case score >= c.Cutoffs.Critical:
		return UrgencyCritical
	case score >= c.Cutoffs.High:
		return UrgencyHigh
	case score >= c.Cutoffs.Medium:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// clamp100 restricts v to the range [0, 100].
func clamp100(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
