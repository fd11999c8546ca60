package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

// Assessment is the pit-stop verdict for one sample.
type Assessment struct {
	CarID           string
	Lap             int
	Timestamp       time.Time
	Score           float64
	Urgency         string
	Recommendation  string
	Factors         Factors
	ActiveAnomalies int
}

// Scorer maintains per-car lap state across samples and scores each one.
//
// All exported methods are safe for concurrent use.
type Scorer struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	cars map[string]*carState
}

// carState is the per-car memory the score formula needs between samples.
type carState struct {
	mu          sync.Mutex
	lap         int
	lapMaxSpeed float64
	seenAt      time.Time
	evicted     bool // removed from Scorer.cars; holders must re-fetch
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: invalid config: %w", err)
	}
	return &Scorer{
		cfg:  cfg,
		now:  time.Now,
		cars: make(map[string]*carState),
	}, nil
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Score evaluates s given the car's current number of active anomalies.
//
// The lap-max speed includes the speed of s itself, so the first sample of a
// lap always has zero speed loss. A lap number of 0 means "not reported" and
// never resets the lap-max.
func (s *Scorer) Score(sample *telemetry.Sample, activeAnomalies int) Assessment {
	st := s.lockCar(sample.CarID, nil)
	defer st.mu.Unlock()

	st.seenAt = s.now()
	if sample.Lap != 0 && sample.Lap != st.lap {
		st.lap = sample.Lap
		st.lapMaxSpeed = 0
	}

	in := Input{ActiveAnomalies: activeAnomalies}
	if wear, ok := sample.Value(telemetry.TireWear); ok {
		in.TireWearPct = wear
	}
	if speed, ok := sample.Value(telemetry.Speed); ok {
		if speed > st.lapMaxSpeed {
			st.lapMaxSpeed = speed
		}
		if st.lapMaxSpeed > 0 {
			in.SpeedLossPct = (st.lapMaxSpeed - speed) / st.lapMaxSpeed * 100
		}
	}
	in.BrakeTempMean, in.HasBrakeTemp = meanBrakeTemp(sample)

	out := s.cfg.Compute(in)
	return Assessment{
		CarID:           sample.CarID,
		Lap:             sample.Lap,
		Timestamp:       sample.Timestamp,
		Score:           out.Score,
		Urgency:         out.Urgency,
		Recommendation:  out.Recommendation,
		Factors:         out.Factors,
		ActiveAnomalies: activeAnomalies,
	}
}

// LapMaxSpeed returns the highest speed seen in the car's current lap.
func (s *Scorer) LapMaxSpeed(carID string) (float64, bool) {
	s.mu.Lock()
	st, ok := s.cars[carID]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lapMaxSpeed, true
}

// Evict removes cars not scored within ttl of now and returns their IDs.
func (s *Scorer) Evict(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-ttl)
	var removed []string
	for id, st := range s.cars {
		st.mu.Lock()
		if !st.seenAt.After(cutoff) {
			st.evicted = true
			delete(s.cars, id)
			removed = append(removed, id)
		}
		st.mu.Unlock()
	}
	sort.Strings(removed)
	return removed
}

// lockCar returns the live, locked state for id. st is a previously fetched
// state or nil; a state removed by Evict since it was fetched is replaced.
func (s *Scorer) lockCar(id string, st *carState) *carState {
	for {
		if st == nil {
			st = s.car(id)
		}
		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
		st = nil
	}
}

func (s *Scorer) car(id string) *carState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cars[id]
	if !ok {
		st = &carState{}
		s.cars[id] = st
	}
	return st
}

// meanBrakeTemp averages the brake temperatures present in s.
func meanBrakeTemp(s *telemetry.Sample) (float64, bool) {
	var sum float64
	var n int
	for _, sig := range telemetry.BrakeTemps {
		if v, ok := s.Value(sig); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
