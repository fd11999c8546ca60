package persist

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultBufferSize    = 10000

	retryInitial    = 250 * time.Millisecond
	retryMax        = 5 * time.Second
	retryMultiplier = 2.0

	// shutdownFlushTimeout bounds the final flush after ctx is cancelled.
	shutdownFlushTimeout = 5 * time.Second
)

// Sink stores a batch of results.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []*pipeline.Result) error
}

// Observer receives write outcomes. *metrics.Collectors satisfies it.
type Observer interface {
	ObservePersisted(sink string, n int)
	ObservePersistDropped(sink string, n int)
}

// WriterConfig controls batching. Zero values take the package defaults.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Writer batches results and fans them out to sinks.
type Writer struct {
	cfg   WriterConfig
	sinks []Sink
	obs   Observer
	ch    chan *pipeline.Result
	bo    *backoff

	// sleep waits for d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewWriter creates a Writer for sinks. obs may be nil.
func NewWriter(cfg WriterConfig, obs Observer, sinks ...Sink) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Writer{
		cfg:   cfg,
		sinks: sinks,
		obs:   obs,
		ch:    make(chan *pipeline.Result, cfg.BufferSize),
		bo:    newBackoff(),
		sleep: sleepCtx,
	}
}

// OnResult implements pipeline.Listener. It never blocks.
func (w *Writer) OnResult(_ context.Context, r *pipeline.Result) {
	select {
	case w.ch <- r:
	default:
		w.obs.ObservePersistDropped("writer", 1)
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]*pipeline.Result, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-w.ch:
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.drainAndFlush(batch)
			return
		}
	}
}

// drainAndFlush writes the pending batch plus anything still buffered, under
// a fresh deadline since the run context is already done.
func (w *Writer) drainAndFlush(batch []*pipeline.Result) {
drain:
	for {
		select {
		case r := <-w.ch:
			batch = append(batch, r)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	for start := 0; start < len(batch); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(batch) {
			end = len(batch)
		}
		w.flush(ctx, batch[start:end])
	}
	slog.Info("persist: final flush", "results", len(batch))
}

func (w *Writer) flush(ctx context.Context, batch []*pipeline.Result) {
	for _, s := range w.sinks {
		err := s.Write(ctx, batch)
		if err != nil {
			wait := w.bo.next()
			slog.Warn("persist: write failed, retrying",
				"sink", s.Name(), "batch", len(batch), "err", err, "retry_in", wait)
			w.sleep(ctx, wait)
			err = s.Write(ctx, batch)
		}
		if err != nil {
			slog.Error("persist: write permanently failed",
				"sink", s.Name(), "batch", len(batch), "err", err)
			w.obs.ObservePersistDropped(s.Name(), len(batch))
			continue
		}
		w.bo.reset()
		w.obs.ObservePersisted(s.Name(), len(batch))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: retryInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * retryMultiplier)
	if b.current > retryMax {
		b.current = retryMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = retryInitial
}

type nopObserver struct{}

func (nopObserver) ObservePersisted(string, int)      {}
func (nopObserver) ObservePersistDropped(string, int) {}
