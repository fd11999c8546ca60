package detect

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

var t0 = time.Date(2026, 5, 24, 14, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func sample(car string, sec float64, readings map[telemetry.Signal]float64) *telemetry.Sample {
	return &telemetry.Sample{CarID: car, Timestamp: at(sec), Readings: readings}
}

func brakeFL(v float64) map[telemetry.Signal]float64 {
	return map[telemetry.Signal]float64{telemetry.BrakeTempFL: v}
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// fixedClock returns a now func pinned to the given instant.
func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func TestDetect_SustainedBrakeOverheat(t *testing.T) {
	d := newDetector(t)

	for _, sec := range []float64{0, 1.0} {
		res := d.Detect(sample("CAR1", sec, brakeFL(965)))
		if len(res.Events) != 0 {
			t.Fatalf("t=%.1f: got %d events before min duration", sec, len(res.Events))
		}
		if res.Active != 1 {
			t.Fatalf("t=%.1f: Active = %d, want 1", sec, res.Active)
		}
	}

	res := d.Detect(sample("CAR1", 2.1, brakeFL(965)))
	if len(res.Events) != 1 {
		t.Fatalf("t=2.1: got %d events, want 1", len(res.Events))
	}
	ev := res.Events[0]
	if ev.Category != "brake_overheat_fl" {
		t.Errorf("Category = %q", ev.Category)
	}
	if ev.Severity != SeverityCritical {
		t.Errorf("Severity = %q", ev.Severity)
	}
	if ev.Peak != 965 || ev.Value != 965 || ev.Threshold != 950 {
		t.Errorf("Peak/Value/Threshold = %v/%v/%v", ev.Peak, ev.Value, ev.Threshold)
	}
	if ev.Duration != 2100*time.Millisecond {
		t.Errorf("Duration = %v, want 2.1s", ev.Duration)
	}
	if !ev.WindowStart.Equal(at(0)) || !ev.DetectedAt.Equal(at(2.1)) {
		t.Errorf("WindowStart=%v DetectedAt=%v", ev.WindowStart, ev.DetectedAt)
	}
	if ev.ID == "" || ev.CarID != "CAR1" {
		t.Errorf("ID=%q CarID=%q", ev.ID, ev.CarID)
	}
	if !strings.Contains(ev.Message, "brake_overheat_fl") {
		t.Errorf("Message = %q", ev.Message)
	}
	if len(res.Open) != 1 || res.Open[0] != "brake_overheat_fl" {
		t.Errorf("Open = %v", res.Open)
	}
}

func TestDetect_RepeatsWhileWindowOpen(t *testing.T) {
	d := newDetector(t)
	var ids []string
	for _, sec := range []float64{0, 2, 3, 4} {
		res := d.Detect(sample("CAR1", sec, brakeFL(970)))
		for _, ev := range res.Events {
			ids = append(ids, ev.ID)
			if !ev.WindowStart.Equal(at(0)) {
				t.Errorf("WindowStart drifted to %v", ev.WindowStart)
			}
		}
	}
	if len(ids) != 3 {
		t.Fatalf("got %d events, want 3 (t=2,3,4)", len(ids))
	}
	if ids[0] == ids[1] {
		t.Error("each event needs its own ID")
	}
}

func TestDetect_ThresholdIsExclusive(t *testing.T) {
	d := newDetector(t)
	for _, sec := range []float64{0, 1, 2, 3} {
		res := d.Detect(sample("CAR1", sec, brakeFL(950)))
		if res.Active != 0 || len(res.Events) != 0 {
			t.Fatalf("t=%v: value at threshold opened a window: %+v", sec, res)
		}
	}
}

func TestDetect_ShortSpanProducesNoEvent(t *testing.T) {
	d := newDetector(t)
	for _, sec := range []float64{0, 0.5, 1.0, 1.5, 1.99} {
		if res := d.Detect(sample("CAR1", sec, brakeFL(990))); len(res.Events) != 0 {
			t.Fatalf("t=%v: unexpected event", sec)
		}
	}
}

func TestDetect_ExactlyMinDurationFires(t *testing.T) {
	d := newDetector(t)
	d.Detect(sample("CAR1", 0, brakeFL(990)))
	if res := d.Detect(sample("CAR1", 2.0, brakeFL(990))); len(res.Events) != 1 {
		t.Fatalf("span of exactly 2s should fire, got %d events", len(res.Events))
	}
}

func TestDetect_ResetOnDrop(t *testing.T) {
	d := newDetector(t)
	d.Detect(sample("CAR1", 0, brakeFL(990)))
	d.Detect(sample("CAR1", 1.5, brakeFL(990)))

	res := d.Detect(sample("CAR1", 1.8, brakeFL(940)))
	if res.Active != 0 {
		t.Fatalf("window survived drop below threshold: Active=%d", res.Active)
	}

	// Fresh window from t=2.0; t=3.5 is only 1.5s in.
	d.Detect(sample("CAR1", 2.0, brakeFL(990)))
	if res := d.Detect(sample("CAR1", 3.5, brakeFL(990))); len(res.Events) != 0 {
		t.Fatal("window must restart after a reset")
	}
	res = d.Detect(sample("CAR1", 4.0, brakeFL(990)))
	if len(res.Events) != 1 || !res.Events[0].WindowStart.Equal(at(2.0)) {
		t.Fatalf("events = %+v", res.Events)
	}
}

func TestDetect_AbsentSignalLeavesWindowAlone(t *testing.T) {
	d := newDetector(t)
	d.Detect(sample("CAR1", 0, brakeFL(990)))
	res := d.Detect(sample("CAR1", 1, map[telemetry.Signal]float64{telemetry.Speed: 300}))
	if res.Active != 1 {
		t.Fatalf("Active = %d, want 1", res.Active)
	}
	if res := d.Detect(sample("CAR1", 2, brakeFL(990))); len(res.Events) != 1 {
		t.Fatal("window should have carried over the sample without the signal")
	}
}

func TestDetect_OutOfOrderResetsWindow(t *testing.T) {
	d := newDetector(t)
	d.Detect(sample("CAR1", 5, brakeFL(990)))
	d.Detect(sample("CAR1", 6, brakeFL(990)))

	res := d.Detect(sample("CAR1", 4, brakeFL(990)))
	if res.Resets != 1 {
		t.Fatalf("Resets = %d, want 1", res.Resets)
	}
	if res.Active != 1 || len(res.Events) != 0 {
		t.Fatalf("after reset Active=%d events=%d", res.Active, len(res.Events))
	}
	res = d.Detect(sample("CAR1", 6, brakeFL(990)))
	if len(res.Events) != 1 || !res.Events[0].WindowStart.Equal(at(4)) {
		t.Fatalf("restarted window events = %+v", res.Events)
	}
}

func TestDetect_MultipleSignalsAndCars(t *testing.T) {
	d := newDetector(t)
	hot := map[telemetry.Signal]float64{
		telemetry.BrakeTempFL: 960,
		telemetry.TireTempRR:  135,
		telemetry.EngineTemp:  130,
		telemetry.TireTempFL:  110,
	}
	d.Detect(sample("CAR1", 0, hot))
	res := d.Detect(sample("CAR1", 2.5, hot))

	if res.Active != 3 {
		t.Errorf("Active = %d, want 3", res.Active)
	}
	wantOrder := []string{"brake_overheat_fl", "tire_overheat_rr", "engine_overheat"}
	if len(res.Events) != len(wantOrder) {
		t.Fatalf("got %d events, want %d", len(res.Events), len(wantOrder))
	}
	for i, ev := range res.Events {
		if ev.Category != wantOrder[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Category, wantOrder[i])
		}
	}

	if got := d.Active("CAR2"); got != 0 {
		t.Errorf("CAR2 Active = %d, want 0", got)
	}
	d.Detect(sample("CAR2", 0, brakeFL(990)))
	if got := d.TotalActive(); got != 4 {
		t.Errorf("TotalActive = %d, want 4", got)
	}
	if d.Cars() != 2 {
		t.Errorf("Cars = %d, want 2", d.Cars())
	}
}

func TestDetect_CustomConfig(t *testing.T) {
	d, err := New(Config{
		Rules:       []Rule{{Signal: telemetry.BrakeTempFL, Threshold: 900, Category: "brakes"}},
		MinDuration: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Detect(sample("CAR1", 0, brakeFL(905)))
	res := d.Detect(sample("CAR1", 0.5, brakeFL(905)))
	if len(res.Events) != 1 || res.Events[0].Category != "brakes" {
		t.Fatalf("events = %+v", res.Events)
	}
}

func TestEvict(t *testing.T) {
	d := newDetector(t)
	clock := t0
	d.now = func() time.Time { return clock }

	d.Detect(sample("CAR1", 0, brakeFL(990)))
	d.Detect(sample("CAR2", 0, brakeFL(990)))

	clock = t0.Add(8 * time.Second)
	d.Detect(sample("CAR2", 1, map[telemetry.Signal]float64{telemetry.Speed: 290}))

	ev := d.Evict(t0.Add(12*time.Second), time.Minute)
	if ev.Windows != 2 {
		t.Errorf("evicted %d windows, want 2", ev.Windows)
	}
	if len(ev.Cars) != 0 {
		t.Errorf("evicted cars %v, want none", ev.Cars)
	}
	if len(ev.Changed) != 2 || ev.Changed["CAR1"] != 0 || ev.Changed["CAR2"] != 0 {
		t.Errorf("changed = %v, want CAR1 and CAR2 at 0 windows", ev.Changed)
	}

	ev = d.Evict(t0.Add(65*time.Second), time.Minute)
	if len(ev.Cars) != 1 || ev.Cars[0] != "CAR1" {
		t.Errorf("evicted cars %v, want [CAR1]", ev.Cars)
	}
	if len(ev.Changed) != 0 {
		t.Errorf("changed = %v, want none", ev.Changed)
	}
	if d.Cars() != 1 {
		t.Errorf("Cars = %d, want 1", d.Cars())
	}
}

func TestDetect_ConcurrentCars(t *testing.T) {
	d := newDetector(t)
	d.now = fixedClock(t0)
	cars := []string{"CAR1", "CAR2", "CAR3", "CAR4"}

	var wg sync.WaitGroup
	for _, car := range cars {
		wg.Add(1)
		go func(car string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Detect(sample(car, float64(i)*0.1, brakeFL(990)))
			}
		}(car)
	}
	wg.Wait()

	for _, car := range cars {
		if got := d.Active(car); got != 1 {
			t.Errorf("%s Active = %d, want 1", car, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"no rules", func(c *Config) { c.Rules = nil }, "at least one rule"},
		{"zero min duration", func(c *Config) { c.MinDuration = 0 }, "min_duration"},
		{"negative ttl", func(c *Config) { c.WindowTTL = -time.Second }, "window_ttl"},
		{"unknown signal", func(c *Config) { c.Rules[0].Signal = "rpm" }, "unknown signal"},
		{"duplicate signal", func(c *Config) { c.Rules[1].Signal = c.Rules[0].Signal }, "duplicate signal"},
		{"empty category", func(c *Config) { c.Rules[0].Category = "" }, "category is required"},
		{"negative threshold", func(c *Config) { c.Rules[2].Threshold = -1 }, "threshold must be >= 0"},
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
	if _, err := New(Config{}); err == nil {
		t.Error("New with empty config should fail")
	}
}

func TestEvict_StaleEntryIsReplaced(t *testing.T) {
	d := newDetector(t)
	clock := t0
	d.now = func() time.Time { return clock }

	d.Detect(sample("CAR1", 0, brakeFL(990)))
	stale := d.car("CAR1")

	d.Evict(t0.Add(2*time.Minute), time.Minute)
	if !stale.evicted {
		t.Fatal("evicted entry not marked")
	}

	// A sample that fetched the entry before eviction must land on live state.
	live := d.lockCar("CAR1", stale)
	live.mu.Unlock()
	if live == stale {
		t.Fatal("lockCar returned the evicted entry")
	}
	if d.Cars() != 1 {
		t.Errorf("Cars = %d, want 1", d.Cars())
	}

	clock = t0.Add(2 * time.Minute)
	d.Detect(sample("CAR1", 120, brakeFL(990)))
	res := d.Detect(sample("CAR1", 122, brakeFL(990)))
	if len(res.Events) != 1 {
		t.Errorf("events after re-creation = %d, want 1", len(res.Events))
	}
}
