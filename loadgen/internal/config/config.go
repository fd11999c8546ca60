package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration of one load-test run.
type Config struct {
	// Target is the base URL of the processor, e.g. http://localhost:8001.
	Target string `mapstructure:"target"`

	// MetricsURL is scraped after the run. Defaults to Target + "/metrics".
	MetricsURL string `mapstructure:"metrics_url"`

	Rate     int           `mapstructure:"rate"`
	Duration time.Duration `mapstructure:"duration"`
	Cars     int           `mapstructure:"cars"`
	Workers  int           `mapstructure:"workers"`
	Timeout  time.Duration `mapstructure:"timeout"`

	Generator  GeneratorConfig `mapstructure:"generator"`
	Thresholds Thresholds      `mapstructure:"thresholds"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// GeneratorConfig controls the synthetic telemetry stream.
type GeneratorConfig struct {
	Seed int64 `mapstructure:"seed"`

	// OverheatProbability is the chance that a sample starts an injected
	// overheat on a car that is not already overheating.
	OverheatProbability float64 `mapstructure:"overheat_probability"`

	// OverheatSamples is how many consecutive samples an injected overheat lasts.
	OverheatSamples int `mapstructure:"overheat_samples"`

	// SampleInterval is the virtual time between two samples of the same car.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Thresholds decide whether a run passes.
type Thresholds struct {
	P95            time.Duration `mapstructure:"p95"`
	P99            time.Duration `mapstructure:"p99"`
	MinSuccessRate float64       `mapstructure:"min_success_rate"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// defaults holds every key with its default value. Flags are registered from
// the same table so --help shows the effective defaults.
var defaults = []struct {
	key   string
	flag  string
	value any
	usage string
}{
	{"target", "target", "http://localhost:8001", "processor base URL"},
	{"metrics_url", "metrics-url", "", "metrics endpoint scraped after the run (default <target>/metrics)"},
	{"rate", "rate", 500, "messages per second"},
	{"duration", "duration", 30 * time.Second, "test duration"},
	{"cars", "cars", 20, "number of simulated cars"},
	{"workers", "workers", 8, "concurrent senders"},
	{"timeout", "timeout", 5 * time.Second, "per-request timeout"},
	{"generator.seed", "seed", int64(1), "random seed"},
	{"generator.overheat_probability", "overheat-probability", 0.02, "chance a sample starts an injected overheat"},
	{"generator.overheat_samples", "overheat-samples", 6, "consecutive samples per injected overheat"},
	{"generator.sample_interval", "sample-interval", 500 * time.Millisecond, "virtual time between samples of one car"},
	{"thresholds.p95", "max-p95", 50 * time.Millisecond, "p95 latency limit"},
	{"thresholds.p99", "max-p99", 100 * time.Millisecond, "p99 latency limit"},
	{"thresholds.min_success_rate", "min-success-rate", 99.0, "minimum success rate in percent"},
	{"logging.level", "log-level", "info", "debug, info, warn or error"},
}

// Load parses args (without the program name) and returns a validated Config.
// A YAML file named by --config is read when given.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("pitwall-loadgen", pflag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	for _, d := range defaults {
		switch v := d.value.(type) {
		case string:
			fs.String(d.flag, v, d.usage)
		case int:
			fs.Int(d.flag, v, d.usage)
		case int64:
			fs.Int64(d.flag, v, d.usage)
		case float64:
			fs.Float64(d.flag, v, d.usage)
		case time.Duration:
			fs.Duration(d.flag, v, d.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	for _, d := range defaults {
		v.SetDefault(d.key, d.value)
		if err := v.BindPFlag(d.key, fs.Lookup(d.flag)); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", d.flag, err)
		}
	}
	v.SetEnvPrefix("LOADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Target = strings.TrimRight(c.Target, "/")
	if c.MetricsURL == "" {
		c.MetricsURL = c.Target + "/metrics"
	}
	if c.Workers > c.Cars && c.Cars > 0 {
		c.Workers = c.Cars
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Target == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if c.Rate <= 0 {
		errs = append(errs, fmt.Errorf("rate must be > 0, got %d", c.Rate))
	}
	if c.Duration <= 0 {
		errs = append(errs, fmt.Errorf("duration must be > 0, got %s", c.Duration))
	}
	if c.Cars <= 0 {
		errs = append(errs, fmt.Errorf("cars must be > 0, got %d", c.Cars))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be > 0, got %d", c.Workers))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	g := c.Generator
	if g.OverheatProbability < 0 || g.OverheatProbability > 1 {
		errs = append(errs, fmt.Errorf("generator.overheat_probability must be within [0, 1], got %g", g.OverheatProbability))
	}
	if g.OverheatSamples <= 0 {
		errs = append(errs, fmt.Errorf("generator.overheat_samples must be > 0, got %d", g.OverheatSamples))
	}
	if g.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("generator.sample_interval must be > 0, got %s", g.SampleInterval))
	}
	if c.Thresholds.MinSuccessRate < 0 || c.Thresholds.MinSuccessRate > 100 {
		errs = append(errs, fmt.Errorf("thresholds.min_success_rate must be within [0, 100], got %g", c.Thresholds.MinSuccessRate))
	}
	return errors.Join(errs...)
}

// NewLogger returns a JSON slog.Logger writing to stderr at the configured level.
// Unknown levels fall back to info.
func (l LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
