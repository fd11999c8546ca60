package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/strategy"
	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

// Result is everything the processor derived from one sample.
type Result struct {
	CarID        string
	Driver       string
	Lap          int
	TireCompound string
	Timestamp    time.Time

	Anomalies  []detect.Event
	Open       []string // categories with an open detection window
	Assessment strategy.Assessment

	ProcessingTime time.Duration
}

// Recorder receives the processor's metrics. *metrics.Collectors satisfies it.
type Recorder interface {
	ObserveSample(sizeBytes int, latency time.Duration)
	ObserveAnomaly(category, severity string)
	SetCar(carID string, active int, score float64)
	SetActive(carID string, active int)
	DeleteCar(carID string)
	ObserveRecommendation(urgency string)
	ObserveOutOfOrder(n int)
	SetThroughput(msgPerSec float64)
	SetAvgLatency(ms float64)
}

// Listener consumes results as they are produced.
type Listener interface {
	OnResult(ctx context.Context, r *Result)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, r *Result)

// OnResult calls f.
func (f ListenerFunc) OnResult(ctx context.Context, r *Result) { f(ctx, r) }

// Config controls eviction of per-car state.
type Config struct {
	// CarTTL is how long a car may stay silent before its state is dropped.
	CarTTL time.Duration
	// EvictInterval is the period of the eviction loop in Run.
	EvictInterval time.Duration
}

// Processor runs detection and scoring for every sample.
// Process is safe for concurrent use; Subscribe must be called before the
// first Process.
type Processor struct {
	cfg       Config
	detector  *detect.Detector
	scorer    *strategy.Scorer
	rec       Recorder
	listeners []Listener
	onEvict   []func(carID string)
	stats     *stats
	now       func() time.Time
}

// New returns a Processor. A nil rec disables metrics.
func New(cfg Config, d *detect.Detector, s *strategy.Scorer, rec Recorder) *Processor {
	if rec == nil {
		rec = nopRecorder{}
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 30 * time.Second
	}
	return &Processor{
		cfg:      cfg,
		detector: d,
		scorer:   s,
		rec:      rec,
		stats:    newStats(time.Now()),
		now:      time.Now,
	}
}

// Subscribe adds l to the listeners notified after every processed sample.
func (p *Processor) Subscribe(l Listener) {
	p.listeners = append(p.listeners, l)
}

// OnEvict registers fn to be called with the ID of every car Evict removes.
// Like Subscribe it must be called before the processor starts.
func (p *Processor) OnEvict(fn func(carID string)) {
	p.onEvict = append(p.onEvict, fn)
}

// Process detects anomalies in s and scores the car's pit-stop urgency.
// It fails only for a nil or invalid sample.
func (p *Processor) Process(ctx context.Context, s *telemetry.Sample) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: process: %w", err)
	}
	start := p.now()

	det := p.detector.Detect(s)
	for _, ev := range det.Events {
		p.rec.ObserveAnomaly(ev.Category, ev.Severity)
		slog.Warn("pipeline: anomaly detected",
			"car", ev.CarID, "category", ev.Category,
			"value", ev.Value, "duration", ev.Duration)
	}
	if det.Resets > 0 {
		p.rec.ObserveOutOfOrder(det.Resets)
	}

	a := p.scorer.Score(s, det.Active)
	p.rec.SetCar(s.CarID, det.Active, a.Score)
	if a.Urgency == strategy.UrgencyCritical || a.Urgency == strategy.UrgencyHigh {
		p.rec.ObserveRecommendation(a.Urgency)
		slog.Info("pipeline: pit stop recommended",
			"car", s.CarID, "lap", s.Lap, "score", a.Score, "urgency", a.Urgency)
	}

	end := p.now()
	elapsed := end.Sub(start)
	p.rec.ObserveSample(s.Size, elapsed)
	if tput, avgMs, ok := p.stats.record(elapsed, end); ok {
		p.rec.SetThroughput(tput)
		p.rec.SetAvgLatency(avgMs)
	}

	res := &Result{
		CarID:          s.CarID,
		Driver:         s.Driver,
		Lap:            s.Lap,
		TireCompound:   s.TireCompound,
		Timestamp:      s.Timestamp,
		Anomalies:      det.Events,
		Open:           det.Open,
		Assessment:     a,
		ProcessingTime: elapsed,
	}
	for _, l := range p.listeners {
		l.OnResult(ctx, res)
	}
	return res, nil
}

// Evict drops stale windows and cars idle for longer than the car TTL. It
// refreshes the active-anomaly gauge of cars that lost windows, deletes the
// series of removed cars and notifies OnEvict hooks. It returns the removed
// car IDs.
func (p *Processor) Evict(now time.Time) []string {
	det := p.detector.Evict(now, p.cfg.CarTTL)
	scoreCars := p.scorer.Evict(now, p.cfg.CarTTL)

	seen := make(map[string]bool, len(det.Cars)+len(scoreCars))
	var removed []string
	for _, id := range append(det.Cars, scoreCars...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		removed = append(removed, id)
		p.rec.DeleteCar(id)
		for _, fn := range p.onEvict {
			fn(id)
		}
	}
	for id, active := range det.Changed {
		if !seen[id] {
			p.rec.SetActive(id, active)
		}
	}
	if det.Windows > 0 || len(removed) > 0 {
		slog.Debug("pipeline: evicted state", "windows", det.Windows, "cars", removed)
	}
	return removed
}

// Run starts the background eviction loop. Run blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.EvictInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p.Evict(now)
		}
	}
}

// Stats is a point-in-time summary of processor activity.
type Stats struct {
	Uptime            time.Duration
	MessagesProcessed uint64
	AvgThroughput     float64 // samples per second since start
	AvgLatencyMs      float64 // over the most recent samples
	ActiveAnomalies   int     // open windows across all cars
	Cars              int
}

// Stats returns current processor statistics.
func (p *Processor) Stats() Stats {
	st := p.stats.snapshot(p.now())
	st.ActiveAnomalies = p.detector.TotalActive()
	st.Cars = p.detector.Cars()
	return st
}

type nopRecorder struct{}

func (nopRecorder) ObserveSample(int, time.Duration) {}
func (nopRecorder) ObserveAnomaly(string, string) {}
func (nopRecorder) SetCar(string, int, float64) {}
func (nopRecorder) SetActive(string, int) {}
func (nopRecorder) DeleteCar(string) {}
func (nopRecorder) ObserveRecommendation(string) {}
func (nopRecorder) ObserveOutOfOrder(int) {}
func (nopRecorder) SetThroughput(float64) {}
func (nopRecorder) SetAvgLatency(float64) {}
