package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitwall/pitwall/loadgen/internal/config"
	"github.com/pitwall/pitwall/loadgen/internal/generator"
	"github.com/pitwall/pitwall/loadgen/internal/report"
	"github.com/pitwall/pitwall/loadgen/internal/scraper"
	"github.com/pitwall/pitwall/loadgen/internal/sender"
)

// scrapeDelay gives the processor time to finish the last in-flight samples
// before its counters are read.
const scrapeDelay = 2 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", ".env", "err", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(2)
	}
	slog.SetDefault(cfg.Logging.NewLogger())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !run(ctx, cfg) {
		os.Exit(1)
	}
}

// run executes one load test and reports whether it passed.
func run(ctx context.Context, cfg *config.Config) bool {
	slog.Info("pitwall-loadgen starting",
		"target", cfg.Target,
		"rate", cfg.Rate,
		"duration", cfg.Duration,
		"cars", cfg.Cars,
		"workers", cfg.Workers,
	)

	gen := generator.New(generator.Config{
		Cars:                cfg.Cars,
		Seed:                cfg.Generator.Seed,
		OverheatProbability: cfg.Generator.OverheatProbability,
		OverheatSamples:     cfg.Generator.OverheatSamples,
		SampleInterval:      cfg.Generator.SampleInterval,
		Start:               time.Now().UTC().Truncate(time.Second),
	})
	rec := report.NewRecorder(int(float64(cfg.Rate) * cfg.Duration.Seconds()))
	runner := &sender.Runner{
		Sender:   sender.New(cfg.Target, cfg.Timeout),
		Source:   gen,
		Recorder: rec,
		Rate:     cfg.Rate,
		Duration: cfg.Duration,
		Workers:  cfg.Workers,
	}

	elapsed := runner.Run(ctx)
	summary := rec.Summarize(float64(cfg.Rate), elapsed)
	summary.Injected = gen.Injected()
	slog.Info("load phase finished", "sent", runner.Sent(), "elapsed", elapsed)

	if ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(scrapeDelay):
		}
		res, err := scraper.New(cfg.MetricsURL).Scrape(ctx)
		if err != nil {
			slog.Warn("metrics scrape failed", "url", cfg.MetricsURL, "err", err)
		} else {
			summary.Anomalies = res.Anomalies
			summary.Processed = res.MessagesReceived
			slog.Info("metrics scraped",
				"messages_received", res.MessagesReceived,
				"anomalies", res.TotalAnomalies(),
				"decode_errors", res.DecodeErrors,
			)
		}
	}

	th := report.Thresholds{
		P95:            cfg.Thresholds.P95,
		P99:            cfg.Thresholds.P99,
		MinSuccessRate: cfg.Thresholds.MinSuccessRate,
	}
	if err := summary.Write(os.Stdout, th); err != nil {
		slog.Error("write report", "err", err)
	}
	return len(summary.Evaluate(th)) == 0
}
