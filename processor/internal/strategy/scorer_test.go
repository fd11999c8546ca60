package strategy

import (
	"testing"
	"time"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

var t0 = time.Date(2026, 5, 24, 14, 0, 0, 0, time.UTC)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func speedSample(car string, lap int, speed float64) *telemetry.Sample {
	return &telemetry.Sample{
		CarID:     car,
		Lap:       lap,
		Timestamp: t0,
		Readings:  map[telemetry.Signal]float64{telemetry.Speed: speed},
	}
}

func TestScore_WornTiresWithOneAnomalyStaysOut(t *testing.T) {
	s := newScorer(t)
	s.Score(speedSample("CAR1", 5, 320), 0)

	a := s.Score(&telemetry.Sample{
		CarID:     "CAR1",
		Lap:       5,
		Timestamp: t0.Add(time.Second),
		Readings: map[telemetry.Signal]float64{
			telemetry.TireWear:    65.2,
			telemetry.Speed:       271,
			telemetry.BrakeTempFL: 800,
			telemetry.BrakeTempFR: 850,
			telemetry.BrakeTempRL: 820,
			telemetry.BrakeTempRR: 856.8,
		},
	}, 1)

	if !almostEqual(a.Factors.SpeedLoss, 15.3125, 1e-9) {
		t.Errorf("SpeedLoss = %.4f, want 15.3125", a.Factors.SpeedLoss)
	}
	if !almostEqual(a.Factors.BrakeDegradation, 81.8, 0.01) {
		t.Errorf("BrakeDegradation = %.4f, want 81.8", a.Factors.BrakeDegradation)
	}
	if a.Factors.AnomalyPenalty != 25 {
		t.Errorf("AnomalyPenalty = %v, want 25", a.Factors.AnomalyPenalty)
	}
	if !almostEqual(a.Score, 49.53, 0.01) {
		t.Errorf("Score = %.4f, want ≈49.53", a.Score)
	}
	if a.Urgency != UrgencyLow {
		t.Errorf("Urgency = %q, want low", a.Urgency)
	}
	if a.CarID != "CAR1" || a.Lap != 5 || a.ActiveAnomalies != 1 || !a.Timestamp.Equal(t0.Add(time.Second)) {
		t.Errorf("assessment metadata = %+v", a)
	}
}

func TestScore_ColdBrakesFreshTires(t *testing.T) {
	s := newScorer(t)
	readings := map[telemetry.Signal]float64{telemetry.TireWear: 0, telemetry.Speed: 250}
	for _, sig := range telemetry.BrakeTemps {
		readings[sig] = 300
	}
	a := s.Score(&telemetry.Sample{CarID: "CAR1", Lap: 1, Timestamp: t0, Readings: readings}, 0)
	if a.Score != 0 || a.Urgency != UrgencyLow {
		t.Errorf("got %.4f/%s, want 0/low", a.Score, a.Urgency)
	}
}

func TestScore_EverythingMaxedOut(t *testing.T) {
	s := newScorer(t)
	s.Score(speedSample("CAR1", 3, 300), 0)
	readings := map[telemetry.Signal]float64{telemetry.TireWear: 100, telemetry.Speed: 0}
	for _, sig := range telemetry.BrakeTemps {
		readings[sig] = 950
	}
	a := s.Score(&telemetry.Sample{CarID: "CAR1", Lap: 3, Timestamp: t0, Readings: readings}, 6)
	if !almostEqual(a.Score, 100, 1e-9) || a.Urgency != UrgencyCritical {
		t.Errorf("got %.4f/%s, want 100/critical", a.Score, a.Urgency)
	}
	if a.Factors.AnomalyPenalty != 100 {
		t.Errorf("AnomalyPenalty = %v, want 100", a.Factors.AnomalyPenalty)
	}
}

func TestScore_LapMaxSpeed(t *testing.T) {
	s := newScorer(t)

	a := s.Score(speedSample("CAR1", 1, 300), 0)
	if a.Factors.SpeedLoss != 0 {
		t.Errorf("first sample of a lap: SpeedLoss = %v, want 0", a.Factors.SpeedLoss)
	}
	a = s.Score(speedSample("CAR1", 1, 240), 0)
	if !almostEqual(a.Factors.SpeedLoss, 20, 1e-9) {
		t.Errorf("SpeedLoss = %v, want 20", a.Factors.SpeedLoss)
	}

	// Unreported lap keeps the current lap-max.
	a = s.Score(speedSample("CAR1", 0, 270), 0)
	if !almostEqual(a.Factors.SpeedLoss, 10, 1e-9) {
		t.Errorf("lap 0: SpeedLoss = %v, want 10", a.Factors.SpeedLoss)
	}

	// New lap resets the baseline.
	a = s.Score(speedSample("CAR1", 2, 240), 0)
	if a.Factors.SpeedLoss != 0 {
		t.Errorf("new lap: SpeedLoss = %v, want 0", a.Factors.SpeedLoss)
	}
	if top, ok := s.LapMaxSpeed("CAR1"); !ok || top != 240 {
		t.Errorf("LapMaxSpeed = %v,%v want 240", top, ok)
	}

	// Missing speed contributes nothing and keeps the baseline.
	a = s.Score(&telemetry.Sample{CarID: "CAR1", Lap: 2, Timestamp: t0}, 0)
	if a.Factors.SpeedLoss != 0 {
		t.Errorf("missing speed: SpeedLoss = %v, want 0", a.Factors.SpeedLoss)
	}
	if top, _ := s.LapMaxSpeed("CAR1"); top != 240 {
		t.Errorf("LapMaxSpeed after missing speed = %v, want 240", top)
	}
}

func TestScore_CarsAreIndependent(t *testing.T) {
	s := newScorer(t)
	s.Score(speedSample("CAR1", 1, 330), 0)
	a := s.Score(speedSample("CAR2", 1, 200), 0)
	if a.Factors.SpeedLoss != 0 {
		t.Errorf("CAR2 borrowed CAR1 lap-max: SpeedLoss = %v", a.Factors.SpeedLoss)
	}
	if _, ok := s.LapMaxSpeed("CAR3"); ok {
		t.Error("unknown car should have no state")
	}
}

func TestScore_PartialBrakeTemps(t *testing.T) {
	s := newScorer(t)
	a := s.Score(&telemetry.Sample{
		CarID:     "CAR1",
		Timestamp: t0,
		Readings: map[telemetry.Signal]float64{
			telemetry.BrakeTempFL: 625,
			telemetry.BrakeTempRR: 625,
		},
	}, 0)
	if !almostEqual(a.Factors.BrakeDegradation, 50, 1e-9) {
		t.Errorf("BrakeDegradation = %v, want 50", a.Factors.BrakeDegradation)
	}
}

func TestScorerEvict(t *testing.T) {
	s := newScorer(t)
	clock := t0
	s.now = func() time.Time { return clock }

	s.Score(speedSample("CAR1", 1, 300), 0)
	clock = t0.Add(4 * time.Minute)
	s.Score(speedSample("CAR2", 1, 300), 0)

	if got := s.Evict(t0.Add(6*time.Minute), 0); got != nil {
		t.Errorf("ttl 0 evicted %v", got)
	}
	got := s.Evict(t0.Add(6*time.Minute), 5*time.Minute)
	if len(got) != 1 || got[0] != "CAR1" {
		t.Errorf("evicted %v, want [CAR1]", got)
	}
	if _, ok := s.LapMaxSpeed("CAR2"); !ok {
		t.Error("CAR2 should survive eviction")
	}
}

func TestScorerEvict_StaleStateIsReplaced(t *testing.T) {
	s := newScorer(t)
	clock := t0
	s.now = func() time.Time { return clock }

	s.Score(speedSample("CAR1", 1, 300), 0)
	stale := s.car("CAR1")
	s.Evict(t0.Add(10*time.Minute), 5*time.Minute)

	live := s.lockCar("CAR1", stale)
	live.mu.Unlock()
	if live == stale || !stale.evicted {
		t.Fatal("lockCar must replace state removed by Evict")
	}

	clock = t0.Add(10 * time.Minute)
	s.Score(speedSample("CAR1", 1, 320), 0)
	a := s.Score(speedSample("CAR1", 1, 288), 0)
	if !almostEqual(a.Factors.SpeedLoss, 10, 1e-9) {
		t.Errorf("SpeedLoss = %v, want 10 against the live lap max", a.Factors.SpeedLoss)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.SpeedLoss = 0.5
	if _, err := New(cfg); err == nil {
		t.Error("expected error for weights summing to 1.2")
	}
}
