package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pitwall/pitwall/processor/internal/pipeline"
	"github.com/pitwall/pitwall/processor/internal/strategy"
)

func result(car string, score float64) *pipeline.Result {
	return &pipeline.Result{
		CarID:      car,
		Assessment: strategy.Assessment{CarID: car, Score: score},
	}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	b := New(5 * time.Minute)
	b.Put(result("CAR1", 12))

	e, ok := b.Get("CAR1")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Result.CarID != "CAR1" {
		t.Errorf("CarID: got %q, want CAR1", e.Result.CarID)
	}
	if _, ok := b.Get("CAR9"); ok {
		t.Error("Get on unknown car: expected false")
	}
}

func TestPut_Overwrites(t *testing.T) {
	b := New(5 * time.Minute)
	b.OnResult(context.Background(), result("CAR1", 10))
	b.OnResult(context.Background(), result("CAR1", 80))

	e, _ := b.Get("CAR1")
	if e.Result.Assessment.Score != 80 {
		t.Errorf("Score: got %v, want 80", e.Result.Assessment.Score)
	}
	if b.Count() != 1 {
		t.Errorf("Count: got %d, want 1", b.Count())
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	base := time.Now()
	b := New(5 * time.Minute)

	b.now = fixedClock(base.Add(-10 * time.Minute))
	b.Put(result("CAR3", 1))
	b.now = fixedClock(base)
	b.Put(result("CAR2", 1))
	b.Put(result("CAR1", 1))

	list := b.List()
	if len(list) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(list))
	}
	if list[0].Result.CarID != "CAR1" || list[1].Result.CarID != "CAR2" {
		t.Errorf("order = %s,%s", list[0].Result.CarID, list[1].Result.CarID)
	}
	if b.Count() != 3 {
		t.Errorf("Count includes stale: got %d, want 3", b.Count())
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	b := New(time.Minute)
	b.now = fixedClock(base)
	b.Put(result("CAR1", 1))
	b.now = fixedClock(base.Add(50 * time.Second))
	b.Put(result("CAR2", 1))

	if n := b.Evict(base.Add(90 * time.Second)); n != 1 {
		t.Errorf("Evict: removed %d, want 1", n)
	}
	if _, ok := b.Get("CAR1"); ok {
		t.Error("CAR1 should have been evicted")
	}
	if _, ok := b.Get("CAR2"); !ok {
		t.Error("CAR2 should remain")
	}
}

func TestStale(t *testing.T) {
	base := time.Now()
	b := New(time.Minute)
	b.now = fixedClock(base)
	b.Put(result("CAR1", 1))
	e, _ := b.Get("CAR1")

	if b.Stale(e, base.Add(30*time.Second)) {
		t.Error("entry 30s old should not be stale")
	}
	if !b.Stale(e, base.Add(time.Minute)) {
		t.Error("entry exactly one TTL old should be stale")
	}
	if New(0).Stale(e, base.Add(time.Hour)) {
		t.Error("ttl 0 should never mark stale")
	}
}

func TestEvict_ZeroTTLKeepsAll(t *testing.T) {
	b := New(0)
	b.Put(result("CAR1", 1))
	if n := b.Evict(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("Evict with ttl 0 removed %d", n)
	}
	if len(b.List()) != 1 {
		t.Error("List with ttl 0 should include every entry")
	}
}

func TestRun_CancelStops(t *testing.T) {
	b := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	b := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			b.Put(result(fmt.Sprintf("CAR%d", i%5), float64(i)))
		}(i)
		go func() {
			defer wg.Done()
			_ = b.List()
		}()
	}
	wg.Wait()
	if b.Count() != 5 {
		t.Errorf("Count: got %d, want 5", b.Count())
	}
}
