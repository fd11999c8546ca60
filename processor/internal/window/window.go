// Package window tracks continuous over-threshold runs of a signal for a
// single car.
//
// A Window opens on the first over-threshold reading, extends on every
// following one and is closed by the caller as soon as a reading drops back
// to or below the threshold. Window time is measured on sample timestamps;
// SeenAt records the processing clock so idle windows can be evicted.
package window

import (
	"sort"
	"time"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

// Window is one open over-threshold run.
type Window struct {
	Signal telemetry.Signal
	Start  time.Time // timestamp of the first over-threshold sample
	Last   time.Time // timestamp of the most recent over-threshold sample
	Peak   float64   // highest value observed in the run
	SeenAt time.Time // processing time of the most recent extension
}

// Duration is the span between the first and the latest sample of the run.
func (w Window) Duration() time.Duration { return w.Last.Sub(w.Start) }

// Set holds the open windows of one car, at most one per signal.
// Set is not safe for concurrent use; callers serialise access per car.
type Set struct {
	windows map[telemetry.Signal]*Window
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{windows: make(map[telemetry.Signal]*Window)}
}

// Observe records an over-threshold reading v taken at ts for sig.
//
// If no window is open one is started at ts. If ts precedes the window's Last
// the window is discarded and restarted at ts, and reset is true. The
// returned Window is a copy.
func (s *Set) Observe(sig telemetry.Signal, ts time.Time, v float64, seenAt time.Time) (w Window, reset bool) {
	cur, ok := s.windows[sig]
	if ok && ts.Before(cur.Last) {
		ok = false
		reset = true
	}
	if !ok {
		cur = &Window{Signal: sig, Start: ts, Last: ts, Peak: v, SeenAt: seenAt}
		s.windows[sig] = cur
		return *cur, reset
	}
	cur.Last = ts
	cur.SeenAt = seenAt
	if v > cur.Peak {
		cur.Peak = v
	}
	return *cur, false
}

// Clear closes the window for sig and reports whether one was open.
func (s *Set) Clear(sig telemetry.Signal) bool {
	if _, ok := s.windows[sig]; !ok {
		return false
	}
	delete(s.windows, sig)
	return true
}

// Get returns a copy of the open window for sig.
func (s *Set) Get(sig telemetry.Signal) (Window, bool) {
	w, ok := s.windows[sig]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Len returns the number of open windows.
func (s *Set) Len() int { return len(s.windows) }

// Open returns the signals with an open window, sorted by name.
func (s *Set) Open() []telemetry.Signal {
	out := make([]telemetry.Signal, 0, len(s.windows))
	for sig := range s.windows {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EvictStale removes windows that have not been extended since now minus ttl
// and returns the number removed. A non-positive ttl disables eviction.
func (s *Set) EvictStale(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for sig, w := range s.windows {
		if !w.SeenAt.After(cutoff) {
			delete(s.windows, sig)
			removed++
		}
	}
	return removed
}
