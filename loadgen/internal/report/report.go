package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"text/tabwriter"
	"time"
)

// Recorder collects request outcomes. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	success   int
	failure   int
}

// NewRecorder returns a Recorder with room for capacity latencies.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{latencies: make([]time.Duration, 0, capacity)}
}

// Record adds one request outcome. Latencies of failed requests are not
// included in the percentiles.
func (r *Recorder) Record(latency time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.failure++
		return
	}
	r.success++
	r.latencies = append(r.latencies, latency)
}

// Latency summarises the successful request latencies.
type Latency struct {
	P50, P95, P99  time.Duration
	Mean, Min, Max time.Duration
}

// Throughput summarises the request volume of a run.
type Throughput struct {
	TargetRate  float64
	ActualRate  float64
	Total       int
	Success     int
	Failure     int
	SuccessRate float64
	Elapsed     time.Duration
}

// Summary is the outcome of one load-test run.
type Summary struct {
	Latency    Latency
	Throughput Throughput

	// Anomalies holds the processor's anomaly counter per category, scraped
	// after the run. Nil when the scrape was skipped or failed.
	Anomalies map[string]float64
	// Processed is the processor's received-message counter.
	Processed float64

	// Injected holds the number of overheats started per kind.
	Injected map[string]int
}

// Summarize computes the run summary from everything recorded so far.
func (r *Recorder) Summarize(targetRate float64, elapsed time.Duration) Summary {
	r.mu.Lock()
	lat := make([]time.Duration, len(r.latencies))
	copy(lat, r.latencies)
	success, failure := r.success, r.failure
	r.mu.Unlock()

	total := success + failure
	tp := Throughput{
		TargetRate: targetRate,
		Total:      total,
		Success:    success,
		Failure:    failure,
		Elapsed:    elapsed,
	}
	if elapsed > 0 {
		tp.ActualRate = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		tp.SuccessRate = float64(success) / float64(total) * 100
	}
	return Summary{Latency: latencyOf(lat), Throughput: tp}
}

func latencyOf(lat []time.Duration) Latency {
	if len(lat) == 0 {
		return Latency{}
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	var sum time.Duration
	for _, d := range lat {
		sum += d
	}
	return Latency{
		P50:  percentile(lat, 50),
		P95:  percentile(lat, 95),
		P99:  percentile(lat, 99),
		Mean: sum / time.Duration(len(lat)),
		Min:  lat[0],
		Max:  lat[len(lat)-1],
	}
}

// percentile returns the nearest-rank percentile p of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Thresholds are the pass/fail limits of a run.
type Thresholds struct {
	P95            time.Duration
	P99            time.Duration
	MinSuccessRate float64
}

// Evaluate returns one message per violated threshold. An empty result means
// the run passed. A run without any request always fails.
func (s Summary) Evaluate(th Thresholds) []string {
	var failures []string
	if s.Throughput.Total == 0 {
		return []string{"no requests were sent"}
	}
	if th.P95 > 0 && s.Latency.P95 > th.P95 {
		failures = append(failures, fmt.Sprintf("p95 latency %s exceeds %s", s.Latency.P95, th.P95))
	}
	if th.P99 > 0 && s.Latency.P99 > th.P99 {
		failures = append(failures, fmt.Sprintf("p99 latency %s exceeds %s", s.Latency.P99, th.P99))
	}
	if s.Throughput.SuccessRate < th.MinSuccessRate {
		failures = append(failures, fmt.Sprintf("success rate %.2f%% below %.2f%%",
			s.Throughput.SuccessRate, th.MinSuccessRate))
	}
	return failures
}

// Write renders the summary and the threshold verdict as aligned text.
func (s Summary) Write(w io.Writer, th Thresholds) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	tp := s.Throughput
	l := s.Latency

	fmt.Fprintln(tw, "THROUGHPUT\t")
	fmt.Fprintf(tw, "  target\t%.0f msg/s\n", tp.TargetRate)
	fmt.Fprintf(tw, "  actual\t%.1f msg/s\n", tp.ActualRate)
	fmt.Fprintf(tw, "  elapsed\t%s\n", tp.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(tw, "  sent\t%d\n", tp.Total)
	fmt.Fprintf(tw, "  succeeded\t%d\n", tp.Success)
	fmt.Fprintf(tw, "  failed\t%d\n", tp.Failure)
	fmt.Fprintf(tw, "  success rate\t%.2f%%\n", tp.SuccessRate)

	fmt.Fprintln(tw, "LATENCY\t")
	for _, row := range []struct {
		name string
		d    time.Duration
	}{
		{"p50", l.P50}, {"p95", l.P95}, {"p99", l.P99},
		{"mean", l.Mean}, {"min", l.Min}, {"max", l.Max},
	} {
		fmt.Fprintf(tw, "  %s\t%.2f ms\n", row.name, ms(row.d))
	}

	if len(s.Injected) > 0 {
		fmt.Fprintln(tw, "INJECTED OVERHEATS\t")
		for _, k := range sortedKeys(s.Injected) {
			fmt.Fprintf(tw, "  %s\t%d\n", k, s.Injected[k])
		}
	}
	if s.Anomalies != nil {
		fmt.Fprintf(tw, "PROCESSOR\t\n  messages received\t%.0f\n", s.Processed)
		for _, k := range sortedKeys(s.Anomalies) {
			fmt.Fprintf(tw, "  %s\t%.0f\n", k, s.Anomalies[k])
		}
	}

	failures := s.Evaluate(th)
	if len(failures) == 0 {
		fmt.Fprintln(tw, "RESULT\tPASS")
	} else {
		fmt.Fprintln(tw, "RESULT\tFAIL")
		for _, f := range failures {
			fmt.Fprintf(tw, "  -\t%s\n", f)
		}
	}
	return tw.Flush()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
