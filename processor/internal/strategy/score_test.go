package strategy

import (
	"math"
	"strings"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// --- Compute() table-driven tests ---

func TestCompute_Urgency(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name        string
		in          Input
		wantUrgency string
		wantScore   float64
	}{
		{
			name:        "no data at all",
			in:          Input{},
			wantUrgency: UrgencyLow,
			wantScore:   0,
		},
		{
			name: "brakes at the bottom of the band",
			// all four brakes at 300 → degradation 0
			in:          Input{BrakeTempMean: 300, HasBrakeTemp: true},
			wantUrgency: UrgencyLow,
			wantScore:   0,
		},
		{
			name: "everything maxed out",
			// 100*0.4 + 100*0.3 + 100*0.2 + min(100, 4*25)*0.1 = 100
			in:          Input{TireWearPct: 100, SpeedLossPct: 100, BrakeTempMean: 950, HasBrakeTemp: true, ActiveAnomalies: 4},
			wantUrgency: UrgencyCritical,
			wantScore:   100,
		},
		{
			name: "penalty capped beyond four anomalies",
			in:          Input{TireWearPct: 100, SpeedLossPct: 100, BrakeTempMean: 950, HasBrakeTemp: true, ActiveAnomalies: 9},
			wantUrgency: UrgencyCritical,
			wantScore:   100,
		},
		{
			name: "worn tires, one anomaly, mid-band brakes",
			// 65.2*0.4 + 15.3125*0.3 + 81.8*0.2 + 25*0.1
			// = 26.08 + 4.59375 + 16.36 + 2.5 = 49.53375
			in:          Input{TireWearPct: 65.2, SpeedLossPct: 15.3125, BrakeTempMean: 831.7, HasBrakeTemp: true, ActiveAnomalies: 1},
			wantUrgency: UrgencyLow,
			wantScore:   49.53375,
		},
		{
			name: "exactly on the medium cutoff",
			// 100*0.4 + 0 + 0 + 100*0.1 = 50
			in:          Input{TireWearPct: 100, ActiveAnomalies: 4},
			wantUrgency: UrgencyMedium,
			wantScore:   50,
		},
		{
			name: "exactly on the high cutoff",
			// 100*0.4 + 50*0.3 + 100*0.2 + 0 = 75
			in:          Input{TireWearPct: 100, SpeedLossPct: 50, BrakeTempMean: 950, HasBrakeTemp: true},
			wantUrgency: UrgencyHigh,
			wantScore:   75,
		},
		{
			name: "exactly on the critical cutoff",
			// 100*0.4 + 100*0.3 + 100*0.2 + 0 = 90
			in:          Input{TireWearPct: 100, SpeedLossPct: 100, BrakeTempMean: 1200, HasBrakeTemp: true},
			wantUrgency: UrgencyCritical,
			wantScore:   90,
		},
		{
			name: "out-of-range inputs are clamped",
			in:          Input{TireWearPct: -20, SpeedLossPct: 400, BrakeTempMean: 100, HasBrakeTemp: true},
			wantUrgency: UrgencyLow,
			wantScore:   30,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := cfg.Compute(tc.in)

			if out.Urgency != tc.wantUrgency {
				t.Errorf("Urgency = %q, want %q (score=%.4f)", out.Urgency, tc.wantUrgency, out.Score)
			}
			if !almostEqual(out.Score, tc.wantScore, 0.01) {
				t.Errorf("Score = %.4f, want %.4f", out.Score, tc.wantScore)
			}
			if out.Recommendation != Recommendation(out.Urgency) {
				t.Errorf("Recommendation = %q does not match tier %q", out.Recommendation, out.Urgency)
			}
		})
	}
}

func TestCompute_BrakeDegradationFactor(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name     string
		mean     float64
		has      bool
		wantDegr float64
	}{
		{"no brake data", 900, false, 0},
		{"below band", 120, true, 0},
		{"band low", 300, true, 0},
		{"band middle", 625, true, 50},
		{"band high", 950, true, 100},
		{"above band", 1100, true, 100},
		{"stated mid-band example", 831.7, true, 81.8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := cfg.Compute(Input{BrakeTempMean: tc.mean, HasBrakeTemp: tc.has})
			if !almostEqual(out.Factors.BrakeDegradation, tc.wantDegr, 0.01) {
				t.Errorf("BrakeDegradation = %.4f, want %.4f", out.Factors.BrakeDegradation, tc.wantDegr)
			}
		})
	}
}

func TestCompute_Monotonic(t *testing.T) {
	cfg := DefaultConfig()
	base := Input{SpeedLossPct: 10, BrakeTempMean: 700, HasBrakeTemp: true, ActiveAnomalies: 1}

	prev := -1.0
	for wear := 0.0; wear <= 120; wear += 5 {
		in := base
		in.TireWearPct = wear
		score := cfg.Compute(in).Score
		if score < prev {
			t.Fatalf("score decreased from %.4f to %.4f at wear=%.0f", prev, score, wear)
		}
		prev = score
	}

	prev = -1.0
	for n := 0; n <= 8; n++ {
		in := base
		in.ActiveAnomalies = n
		score := cfg.Compute(in).Score
		if score < prev {
			t.Fatalf("score decreased from %.4f to %.4f at anomalies=%d", prev, score, n)
		}
		prev = score
	}
}

func TestCompute_BoundsAndTierConsistency(t *testing.T) {
	cfg := DefaultConfig()
	values := []float64{-50, 0, 12.5, 49.9, 50, 74.99, 75, 89.99, 90, 100, 250}
	for _, wear := range values {
		for _, loss := range values {
			for _, brake := range []float64{-10, 300, 640, 950, 2000} {
				for n := 0; n < 6; n++ {
					out := cfg.Compute(Input{
						TireWearPct:     wear,
						SpeedLossPct:    loss,
						BrakeTempMean:   brake,
						HasBrakeTemp:    true,
						ActiveAnomalies: n,
					})
					if out.Score < 0 || out.Score > 100 {
						t.Fatalf("score %.4f out of bounds", out.Score)
					}
					if want := cfg.urgencyFromScore(out.Score); out.Urgency != want {
						t.Fatalf("urgency %q for score %.4f, want %q", out.Urgency, out.Score, want)
					}
				}
			}
		}
	}
}

func TestCompute_CustomConfig(t *testing.T) {
	cfg := Config{
		Weights:           Weights{TireWear: 1},
		Cutoffs:           Cutoffs{Critical: 60, High: 40, Medium: 20},
		BrakeBand:         Band{Low: 0, High: 1000},
		PenaltyPerAnomaly: 10,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out := cfg.Compute(Input{TireWearPct: 45, ActiveAnomalies: 5})
	if out.Urgency != UrgencyHigh || !almostEqual(out.Score, 45, 1e-9) {
		t.Errorf("got %.2f/%s, want 45/high", out.Score, out.Urgency)
	}
	if out.Factors.AnomalyPenalty != 50 {
		t.Errorf("AnomalyPenalty = %v, want 50", out.Factors.AnomalyPenalty)
	}
}

func TestRecommendationTexts(t *testing.T) {
	for _, u := range []string{UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow} {
		if Recommendation(u) == "" {
			t.Errorf("no recommendation for %q", u)
		}
	}
	if !strings.Contains(Recommendation(UrgencyCritical), "Box now") {
		t.Errorf("critical recommendation = %q", Recommendation(UrgencyCritical))
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"weights drift", func(c *Config) { c.Weights.TireWear = 0.41 }, "sum to 1.0"},
		{"negative weight", func(c *Config) {
			c.Weights = Weights{TireWear: 0.6, SpeedLoss: 0.3, BrakeDegradation: 0.2, AnomalyPenalty: -0.1}
		}, "must be >= 0"},
		{"cutoffs out of order", func(c *Config) { c.Cutoffs.High = 95 }, "critical > high > medium"},
		{"cutoff above 100", func(c *Config) { c.Cutoffs.Critical = 120 }, "within (0, 100]"},
		{"zero medium cutoff", func(c *Config) { c.Cutoffs.Medium = 0 }, "within (0, 100]"},
		{"inverted brake band", func(c *Config) { c.BrakeBand = Band{Low: 950, High: 300} }, "brake band"},
		{"negative penalty", func(c *Config) { c.PenaltyPerAnomaly = -1 }, "anomaly penalty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestCompute_StockConfig(t *testing.T) {
	in := Input{TireWearPct: 100, SpeedLossPct: 100, BrakeTempMean: 950, HasBrakeTemp: true, ActiveAnomalies: 4}
	out := Compute(in)
	if out != DefaultConfig().Compute(in) {
		t.Errorf("Compute differs from DefaultConfig().Compute: %+v", out)
	}
	if !almostEqual(out.Score, 100, 1e-9) || out.Urgency != UrgencyCritical {
		t.Errorf("score = %v urgency = %q, want 100 critical", out.Score, out.Urgency)
	}
}
