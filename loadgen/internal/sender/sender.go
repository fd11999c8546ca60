package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitwall/pitwall/loadgen/internal/generator"
)

// Sender delivers single payloads to the processor's telemetry endpoint.
type Sender struct {
	url    string
	client *http.Client
}

// New returns a Sender posting to target + "/telemetry".
func New(target string, timeout time.Duration) *Sender {
	return &Sender{
		url: target + "/telemetry",
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 256,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send POSTs body and returns the request latency. Any non-2xx status is
// an error.
func (s *Sender) Send(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return time.Since(start), fmt.Errorf("post: %w", err)
	}
	// Drain so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return latency, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return latency, nil
}

// Source yields the next message to send.
type Source interface {
	Next() generator.Message
}

// Recorder receives the outcome of each request.
type Recorder interface {
	Record(latency time.Duration, ok bool)
}

// Runner paces messages from a Source through a pool of workers.
type Runner struct {
	Sender   *Sender
	Source   Source
	Recorder Recorder
	Rate     int
	Duration time.Duration
	Workers  int

	sent atomic.Int64
}

// Run sends Rate messages per second for Duration, or until ctx is
// cancelled, and returns the elapsed wall time once every in-flight request
// has finished.
func (r *Runner) Run(ctx context.Context) time.Duration {
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	queues := make([]chan []byte, workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan []byte, 64)
		wg.Add(1)
		go func(q <-chan []byte) {
			defer wg.Done()
			r.work(ctx, q)
		}(queues[i])
	}

	start := time.Now()
	r.pace(ctx, queues)
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	return time.Since(start)
}

// Sent returns the number of messages handed to workers so far.
func (r *Runner) Sent() int64 { return r.sent.Load() }

// pace emits messages in ticks of tickInterval, spreading the rate evenly.
func (r *Runner) pace(ctx context.Context, queues []chan []byte) {
	const tickInterval = 10 * time.Millisecond
	total := int64(float64(r.Rate) * r.Duration.Seconds())
	deadline := time.NewTimer(r.Duration)
	defer deadline.Stop()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	start := time.Now()
	for r.sent.Load() < total {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case now := <-ticker.C:
			due := int64(now.Sub(start).Seconds() * float64(r.Rate))
			if due > total {
				due = total
			}
			for r.sent.Load() < due {
				m := r.Source.Next()
				select {
				case queues[m.Car%len(queues)] <- m.Body:
					r.sent.Add(1)
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (r *Runner) work(ctx context.Context, q <-chan []byte) {
	for body := range q {
		if ctx.Err() != nil {
			continue
		}
		latency, err := r.Sender.Send(ctx, body)
		if err != nil {
			slog.Debug("sender: request failed", "err", err)
		}
		r.Recorder.Record(latency, err == nil)
	}
}
