package pipeline

import (
	"sync"
	"time"
)

// latencyWindow is the number of recent samples averaged for AvgLatencyMs.
const latencyWindow = 1000

// throughputInterval is the minimum spacing between throughput updates.
const throughputInterval = time.Second

// stats accumulates counters for the /stats endpoint and the throughput and
// latency gauges.
type stats struct {
	mu        sync.Mutex
	startedAt time.Time
	total     uint64

	latencies []time.Duration // ring buffer, newest at next-1
	next      int
	sum       time.Duration

	windowStart time.Time
	windowCount uint64
}

func newStats(now time.Time) *stats {
	return &stats{
		startedAt:   now,
		windowStart: now,
		latencies:   make([]time.Duration, 0, latencyWindow),
	}
}

// record adds one sample. When at least throughputInterval has passed since
// the previous update it returns the throughput over that interval and the
// current mean latency, with ok set.
func (s *stats) record(latency time.Duration, now time.Time) (msgPerSec, avgMs float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.windowCount++

	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, latency)
	} else {
		s.sum -= s.latencies[s.next]
		s.latencies[s.next] = latency
	}
	s.next = (s.next + 1) % latencyWindow
	s.sum += latency

	elapsed := now.Sub(s.windowStart)
	if elapsed < throughputInterval {
		return 0, 0, false
	}
	msgPerSec = float64(s.windowCount) / elapsed.Seconds()
	s.windowStart = now
	s.windowCount = 0
	return msgPerSec, s.avgMsLocked(), true
}

func (s *stats) avgMsLocked() float64 {
	if len(s.latencies) == 0 {
		return 0
	}
	return float64(s.sum) / float64(len(s.latencies)) / float64(time.Millisecond)
}

func (s *stats) snapshot(now time.Time) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	uptime := now.Sub(s.startedAt)
	st := Stats{
		Uptime:            uptime,
		MessagesProcessed: s.total,
		AvgLatencyMs:      s.avgMsLocked(),
	}
	if secs := uptime.Seconds(); secs > 0 {
		st.AvgThroughput = float64(s.total) / secs
	}
	return st
}
