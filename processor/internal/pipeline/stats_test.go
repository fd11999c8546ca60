package pipeline

import (
	"math"
	"testing"
	"time"
)

func TestStats_ThroughputAtMostOncePerSecond(t *testing.T) {
	s := newStats(t0)

	for i := 1; i <= 9; i++ {
		if _, _, ok := s.record(time.Millisecond, t0.Add(time.Duration(i)*100*time.Millisecond)); ok {
			t.Fatalf("update after %dms", i*100)
		}
	}
	tput, avg, ok := s.record(time.Millisecond, t0.Add(time.Second))
	if !ok {
		t.Fatal("expected an update after one second")
	}
	if math.Abs(tput-10) > 1e-9 {
		t.Errorf("throughput = %v, want 10", tput)
	}
	if math.Abs(avg-1) > 1e-9 {
		t.Errorf("avg latency = %vms, want 1", avg)
	}
	if _, _, ok := s.record(time.Millisecond, t0.Add(1500*time.Millisecond)); ok {
		t.Error("second update within the same second")
	}
}

func TestStats_LatencyRingKeepsRecentSamples(t *testing.T) {
	s := newStats(t0)
	for i := 0; i < latencyWindow; i++ {
		s.record(10*time.Millisecond, t0)
	}
	for i := 0; i < latencyWindow; i++ {
		s.record(2*time.Millisecond, t0)
	}
	snap := s.snapshot(t0.Add(4 * time.Second))
	if math.Abs(snap.AvgLatencyMs-2) > 1e-9 {
		t.Errorf("AvgLatencyMs = %v, want 2", snap.AvgLatencyMs)
	}
	if snap.MessagesProcessed != 2*latencyWindow {
		t.Errorf("MessagesProcessed = %d", snap.MessagesProcessed)
	}
	if math.Abs(snap.AvgThroughput-500) > 1e-9 {
		t.Errorf("AvgThroughput = %v, want 500", snap.AvgThroughput)
	}
	if snap.Uptime != 4*time.Second {
		t.Errorf("Uptime = %v", snap.Uptime)
	}
}

func TestStats_Empty(t *testing.T) {
	snap := newStats(t0).snapshot(t0)
	if snap.AvgLatencyMs != 0 || snap.AvgThroughput != 0 || snap.MessagesProcessed != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
}
