package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

// Entry is a car's latest result together with the time it was received.
type Entry struct {
	Result    *pipeline.Result
	UpdatedAt time.Time
}

// Board is a thread-safe in-memory result store, keyed by car ID.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL.
type Board struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Board with the given TTL.
func New(ttl time.Duration) *Board {
	return &Board{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the result for r.CarID.
// Callers must not modify r after calling Put.
func (b *Board) Put(r *pipeline.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[r.CarID] = &Entry{
		Result:    r,
		UpdatedAt: b.now(),
	}
}

// OnResult implements pipeline.Listener.
func (b *Board) OnResult(_ context.Context, r *pipeline.Result) { b.Put(r) }

// Get returns the Entry for carID and whether one was found. The entry may
// be stale if the TTL has elapsed.
func (b *Board) Get(carID string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.data[carID]
	return e, ok
}

// List returns every entry updated within the TTL, ordered by car ID.
func (b *Board) List() []*Entry {
	b.mu.RLock()
	cutoff := b.now().Add(-b.ttl)
	out := make([]*Entry, 0, len(b.data))
	for _, e := range b.data {
		if b.ttl <= 0 || e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Result.CarID < out[j].Result.CarID })
	return out
}

// Stale reports whether e is older than the TTL at now. A non-positive TTL
// never marks an entry stale.
func (b *Board) Stale(e *Entry, now time.Time) bool {
	return b.ttl > 0 && !e.UpdatedAt.After(now.Add(-b.ttl))
}

// Count returns the total number of entries held, including stale ones.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL and
// returns the number removed. A non-positive TTL keeps every entry.
func (b *Board) Evict(now time.Time) int {
	if b.ttl <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := now.Add(-b.ttl)
	removed := 0
	for id, e := range b.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(b.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (b *Board) Run(ctx context.Context) {
	interval := b.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := b.Evict(now); n > 0 {
				slog.Debug("store: evicted idle cars", "count", n)
			}
		}
	}
}
