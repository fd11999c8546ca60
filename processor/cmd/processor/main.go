package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitwall/pitwall/processor/internal/alerts"
	"github.com/pitwall/pitwall/processor/internal/api"
	"github.com/pitwall/pitwall/processor/internal/config"
	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/ingest"
	"github.com/pitwall/pitwall/processor/internal/metrics"
	"github.com/pitwall/pitwall/processor/internal/persist"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
	"github.com/pitwall/pitwall/processor/internal/probe"
	"github.com/pitwall/pitwall/processor/internal/store"
	"github.com/pitwall/pitwall/processor/internal/strategy"
	"github.com/pitwall/pitwall/processor/internal/ws"
)

// connectTimeout bounds the startup connection to each optional backend.
const connectTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file; empty runs on defaults")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", "path", *envFile, "err", err)
	}

	slog.Info("pitwall-processor starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logging.NewLogger(os.Stdout, level))

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"min_duration", cfg.Detector.MinDuration,
		"mqtt", cfg.MQTT.Enabled,
		"postgres", cfg.Postgres.Enabled,
		"redis", cfg.Redis.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *configPath, level); err != nil {
		slog.Error("pitwall-processor failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	det, err := detect.New(cfg.DetectorConfig())
	if err != nil {
		return err
	}
	scorer, err := strategy.New(cfg.StrategyConfig())
	if err != nil {
		return err
	}

	m := metrics.New()
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	proc := pipeline.New(pipeline.Config{
		CarTTL:        cfg.State.CarTTL,
		EvictInterval: cfg.State.EvictInterval,
	}, det, scorer, m)

	// Board of latest results, read by the REST API and the hub.
	board := store.New(cfg.State.BoardTTL)
	proc.Subscribe(board)

	alertEngine := alerts.New(cfg.Alerts)
	proc.Subscribe(alertEngine)
	proc.OnEvict(alertEngine.Forget)

	hub := ws.New(board, cfg.Hub.Interval)
	alertEngine.Notify(hub.PublishAlert)

	var wg sync.WaitGroup

	sinks, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()
	if len(sinks) > 0 {
		writer := persist.NewWriter(persist.WriterConfig{
			BatchSize:     cfg.Postgres.BatchSize,
			FlushInterval: cfg.Postgres.FlushInterval,
			BufferSize:    cfg.Postgres.BufferSize,
		}, m, sinks...)
		proc.Subscribe(writer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(ctx)
		}()
	}

	go proc.Run(ctx)
	go board.Run(ctx)
	go hub.Run(ctx)

	// REST API, metrics and WebSocket hub share the HTTP port.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws/board", hub)
	mux.Handle("/", api.New(proc, board, alertEngine, m))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	var probeSrv *probe.Server
	if cfg.Server.GRPCPort > 0 {
		probeSrv, err = probe.New(fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return err
		}
		go func() {
			slog.Info("gRPC health probe listening", "addr", probeSrv.Address())
			if err := probeSrv.Start(); err != nil {
				slog.Error("gRPC probe stopped", "err", err)
			}
		}()
	}

	var sub *ingest.Subscriber
	if cfg.MQTT.Enabled {
		sub = ingest.NewSubscriber(cfg.MQTT, proc, m)
		if err := sub.Start(ctx); err != nil {
			return err
		}
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next *config.Config) {
				level.Set(next.Logging.SlogLevel())
				alertEngine.Reload(next.Alerts)
				if config.RestartRequired(cfg, next) {
					slog.Warn("config: changes to listeners, transports, sinks, detector or scorer need a restart",
						"path", configPath)
				}
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("pitwall-processor shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if probeSrv != nil {
		probeSrv.Shutdown(shutdownCtx)
	}
	if sub != nil {
		sub.Stop()
	}
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	wg.Wait()
	return nil
}

// openSinks connects the enabled persistence backends. The returned func
// closes whatever was opened.
func openSinks(ctx context.Context, cfg *config.Config) ([]persist.Sink, func(), error) {
	var (
		sinks   []persist.Sink
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if cfg.Postgres.Enabled {
		db, err := persist.OpenPostgres(cctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() { db.Close() })
		pg := persist.NewPostgresSink(db)
		if err := pg.EnsureSchema(cctx); err != nil {
			closeAll()
			return nil, func() {}, err
		}
		sinks = append(sinks, pg)
		slog.Info("postgres sink enabled", "batch_size", cfg.Postgres.BatchSize)
	}

	if cfg.Redis.Enabled {
		client, err := persist.OpenRedis(cctx, cfg.Redis.Addr, cfg.Redis.Password(), cfg.Redis.DB)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, func() { client.Close() })
		sinks = append(sinks, persist.NewRedisSink(client, cfg.Redis.StateTTL))
		slog.Info("redis sink enabled", "addr", cfg.Redis.Addr, "state_ttl", cfg.Redis.StateTTL)
	}

	return sinks, closeAll, nil
}
