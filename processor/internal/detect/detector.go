package detect

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
	"github.com/pitwall/pitwall/processor/internal/window"
)

// Event is one anomaly notification. It is emitted for every sample on which
// an open window has lasted at least the configured minimum duration.
type Event struct {
	ID          string
	CarID       string
	Signal      telemetry.Signal
	Category    string
	Severity    string
	Value       float64 // reading that produced the event
	Peak        float64 // highest reading of the window so far
	Threshold   float64
	Duration    time.Duration
	WindowStart time.Time
	DetectedAt  time.Time // sample timestamp
	Message     string
}

// Result is the detector's verdict for a single sample.
type Result struct {
	Events []Event
	// Active is the number of open windows for the car after this sample.
	Active int
	// Open lists the categories of the car's open windows, in rule order.
	Open []string
	// Resets counts windows discarded because of an out-of-order timestamp.
	Resets int
}

// Detector holds per-car window state. All exported methods are safe for
// concurrent use.
type Detector struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	cars map[string]*carWindows
}

type carWindows struct {
	mu      sync.Mutex
	set     *window.Set
	seenAt  time.Time
	evicted bool // removed from Detector.cars; holders must re-fetch
}

// New validates cfg and returns a Detector.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detect: invalid config: %w", err)
	}
	rules := make([]Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	cfg.Rules = rules

	return &Detector{
		cfg:  cfg,
		now:  time.Now,
		cars: make(map[string]*carWindows),
	}, nil
}

// Detect evaluates every rule whose signal is present in s, in rule order.
func (d *Detector) Detect(s *telemetry.Sample) Result {
	cw := d.lockCar(s.CarID, nil)
	defer cw.mu.Unlock()

	seen := d.now()
	cw.seenAt = seen

	var res Result
	for _, r := range d.cfg.Rules {
		v, ok := s.Value(r.Signal)
		if !ok {
			continue
		}
		if v <= r.Threshold {
			cw.set.Clear(r.Signal)
			continue
		}

		prev, hadWindow := cw.set.Get(r.Signal)
		w, reset := cw.set.Observe(r.Signal, s.Timestamp, v, seen)
		if reset {
			res.Resets++
			slog.Warn("detect: out-of-order sample, window reset",
				"car", s.CarID, "signal", r.Signal,
				"ts", s.Timestamp, "window_last", prev.Last)
		} else if !hadWindow {
			slog.Debug("detect: window opened",
				"car", s.CarID, "signal", r.Signal, "value", v)
		}

		if w.Duration() >= d.cfg.MinDuration {
			res.Events = append(res.Events, newEvent(s, r, v, w))
		}
	}

	res.Active = cw.set.Len()
	res.Open = d.openCategories(cw.set)
	return res
}

// Active returns the number of open windows for carID.
func (d *Detector) Active(carID string) int {
	d.mu.Lock()
	cw, ok := d.cars[carID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.set.Len()
}

// TotalActive returns the number of open windows across all cars.
func (d *Detector) TotalActive() int {
	d.mu.Lock()
	cars := make([]*carWindows, 0, len(d.cars))
	for _, cw := range d.cars {
		cars = append(cars, cw)
	}
	d.mu.Unlock()

	total := 0
	for _, cw := range cars {
		cw.mu.Lock()
		total += cw.set.Len()
		cw.mu.Unlock()
	}
	return total
}

// Cars returns the number of cars with detector state.
func (d *Detector) Cars() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cars)
}

// Eviction summarises one Evict pass.
type Eviction struct {
	// Windows is the number of stale windows dropped.
	Windows int
	// Changed maps each car that lost windows but was kept to its remaining
	// number of open windows.
	Changed map[string]int
	// Cars lists the removed cars in ascending order.
	Cars []string
}

// Evict drops windows not extended within the window TTL and removes cars
// with no sample within carTTL. A non-positive carTTL keeps every car.
func (d *Detector) Evict(now time.Time, carTTL time.Duration) Eviction {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ev Eviction
	for id, cw := range d.cars {
		cw.mu.Lock()
		n := cw.set.EvictStale(now, d.cfg.WindowTTL)
		ev.Windows += n
		idle := carTTL > 0 && !cw.seenAt.After(now.Add(-carTTL))
		if idle {
			cw.evicted = true
			delete(d.cars, id)
			ev.Cars = append(ev.Cars, id)
		} else if n > 0 {
			if ev.Changed == nil {
				ev.Changed = make(map[string]int)
			}
			ev.Changed[id] = cw.set.Len()
		}
		cw.mu.Unlock()
	}
	sort.Strings(ev.Cars)
	return ev
}

// lockCar returns the live, locked entry for id. cw is a previously fetched
// entry or nil; an entry removed by Evict since it was fetched is replaced.
func (d *Detector) lockCar(id string, cw *carWindows) *carWindows {
	for {
		if cw == nil {
			cw = d.car(id)
		}
		cw.mu.Lock()
		if !cw.evicted {
			return cw
		}
		cw.mu.Unlock()
		cw = nil
	}
}

func (d *Detector) car(id string) *carWindows {
	d.mu.Lock()
	defer d.mu.Unlock()
	cw, ok := d.cars[id]
	if !ok {
		cw = &carWindows{set: window.NewSet()}
		d.cars[id] = cw
	}
	return cw
}

func (d *Detector) openCategories(set *window.Set) []string {
	if set.Len() == 0 {
		return nil
	}
	out := make([]string, 0, set.Len())
	for _, r := range d.cfg.Rules {
		if _, ok := set.Get(r.Signal); ok {
			out = append(out, r.Category)
		}
	}
	return out
}

func newEvent(s *telemetry.Sample, r Rule, v float64, w window.Window) Event {
	return Event{
		ID:          uuid.NewString(),
		CarID:       s.CarID,
		Signal:      r.Signal,
		Category:    r.Category,
		Severity:    SeverityCritical,
		Value:       v,
		Peak:        w.Peak,
		Threshold:   r.Threshold,
		Duration:    w.Duration(),
		WindowStart: w.Start,
		DetectedAt:  s.Timestamp,
		Message: fmt.Sprintf("%s on %s: %.1f above %.1f for %.1fs (peak %.1f)",
			r.Category, s.CarID, v, r.Threshold, w.Duration().Seconds(), w.Peak),
	}
}
