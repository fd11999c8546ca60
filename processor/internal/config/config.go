package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/strategy"
	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

// Default values for the processor configuration.
const (
	DefaultHTTPPort        = 8001
	DefaultGRPCPort        = 50051
	DefaultGracefulTimeout = 10 * time.Second
	DefaultCarTTL          = 5 * time.Minute
	DefaultBoardTTL        = 5 * time.Minute
	DefaultEvictInterval   = 30 * time.Second
	DefaultHubInterval     = time.Second
	DefaultAlertCooldown   = 15 * time.Minute
)

// Config is the full processor configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Detector DetectorConfig `yaml:"detector"`
	Scorer   ScorerConfig   `yaml:"scorer"`
	State    StateConfig    `yaml:"state"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Hub      HubConfig      `yaml:"hub"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// HTTPPort serves the REST API, /metrics and the WebSocket hub (default 8001).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service (default 50051). 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectorConfig is the YAML form of detect.Config.
type DetectorConfig struct {
	MinDuration time.Duration `yaml:"min_duration"`
	WindowTTL   time.Duration `yaml:"window_ttl"`

	// Rules replaces the default rule set when non-empty.
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is one threshold rule.
type RuleConfig struct {
	Signal    string  `yaml:"signal"`
	Threshold float64 `yaml:"threshold"`
	Category  string  `yaml:"category"`
}

// ScorerConfig is the YAML form of strategy.Config.
type ScorerConfig struct {
	Weights        WeightsConfig `yaml:"weights"`
	Cutoffs        CutoffsConfig `yaml:"cutoffs"`
	BrakeBand      BandConfig    `yaml:"brake_band"`
	AnomalyPenalty float64       `yaml:"anomaly_penalty"`
}

// WeightsConfig holds the four factor weights. They must sum to 1.0.
type WeightsConfig struct {
	TireWear         float64 `yaml:"tire_wear"`
	SpeedLoss        float64 `yaml:"speed_loss"`
	BrakeDegradation float64 `yaml:"brake_degradation"`
	AnomalyPenalty   float64 `yaml:"anomaly_penalty"`
}

// CutoffsConfig holds the minimum score of each urgency tier above low.
type CutoffsConfig struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// BandConfig is a temperature range in °C.
type BandConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// StateConfig bounds the lifetime of per-car state.
type StateConfig struct {
	// CarTTL is how long a silent car keeps its detector and scorer state.
	CarTTL time.Duration `yaml:"car_ttl"`

	// BoardTTL is how long a car's latest result stays on the board.
	BoardTTL time.Duration `yaml:"board_ttl"`

	EvictInterval time.Duration `yaml:"evict_interval"`
}

// MQTTConfig configures the optional MQTT telemetry subscription.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`

	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string { return fromEnv(m.PasswordEnv) }

// PostgresConfig configures the optional PostgreSQL sink.
type PostgresConfig struct {
	Enabled bool `yaml:"enabled"`

	// DSNEnv is the name of the environment variable holding the DSN.
	DSNEnv string `yaml:"dsn_env"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DSN returns the connection string resolved from the environment.
func (p PostgresConfig) DSN() string { return fromEnv(p.DSNEnv) }

// RedisConfig configures the optional Redis sink.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	StateTTL    time.Duration `yaml:"state_ttl"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string { return fromEnv(r.PasswordEnv) }

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Cooldown is the default re-fire suppression for rules that set none.
	Cooldown time.Duration `yaml:"cooldown"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression over the latest assessment:
	// "score >= 75", "urgency == critical", "active_anomalies >= 2",
	// "tire_wear > 80", "speed_loss > 20", "brake_degradation > 90".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return fromEnv(w.URLEnv) }

// HubConfig controls the WebSocket board broadcast.
type HubConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path. An empty path yields the
// defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	sc := strategy.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			HTTPPort:        DefaultHTTPPort,
			GRPCPort:        DefaultGRPCPort,
			GracefulTimeout: DefaultGracefulTimeout,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		Detector: DetectorConfig{
			MinDuration: detect.DefaultMinDuration,
			WindowTTL:   detect.DefaultWindowTTL,
		},
		Scorer: ScorerConfig{
			Weights: WeightsConfig{
				TireWear:         sc.Weights.TireWear,
				SpeedLoss:        sc.Weights.SpeedLoss,
				BrakeDegradation: sc.Weights.BrakeDegradation,
				AnomalyPenalty:   sc.Weights.AnomalyPenalty,
			},
			Cutoffs: CutoffsConfig{
				Critical: sc.Cutoffs.Critical,
				High:     sc.Cutoffs.High,
				Medium:   sc.Cutoffs.Medium,
			},
			BrakeBand:      BandConfig{Low: sc.BrakeBand.Low, High: sc.BrakeBand.High},
			AnomalyPenalty: sc.PenaltyPerAnomaly,
		},
		State: StateConfig{
			CarTTL:        DefaultCarTTL,
			BoardTTL:      DefaultBoardTTL,
			EvictInterval: DefaultEvictInterval,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			Topic:    "pitwall/telemetry/#",
			ClientID: "pitwall-processor",
			QoS:      1,
		},
		Postgres: PostgresConfig{
			DSNEnv:        "PITWALL_POSTGRES_DSN",
			BatchSize:     100,
			FlushInterval: time.Second,
			BufferSize:    10000,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			StateTTL: 10 * time.Minute,
		},
		Alerts: AlertsConfig{Cooldown: DefaultAlertCooldown},
		Hub:    HubConfig{Interval: DefaultHubInterval},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	var errs []error
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort))
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort))
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		errs = append(errs, errors.New("server.grpc_port and server.http_port must differ"))
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown: want debug|info|warn|error", cfg.Logging.Level))
	}

	if err := cfg.DetectorConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := cfg.StrategyConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scorer: %w", err))
	}

	if cfg.State.CarTTL < 0 || cfg.State.BoardTTL < 0 {
		errs = append(errs, errors.New("state ttls must not be negative"))
	}
	if cfg.State.EvictInterval <= 0 {
		errs = append(errs, errors.New("state.evict_interval must be > 0"))
	}
	if cfg.Hub.Interval <= 0 {
		errs = append(errs, errors.New("hub.interval must be > 0"))
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" || cfg.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.broker and mqtt.topic are required when mqtt is enabled"))
		}
		if cfg.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", cfg.MQTT.QoS))
		}
	}
	if cfg.Postgres.Enabled {
		if cfg.Postgres.DSNEnv == "" {
			errs = append(errs, errors.New("postgres.dsn_env is required when postgres is enabled"))
		}
		if cfg.Postgres.BatchSize <= 0 || cfg.Postgres.BufferSize <= 0 || cfg.Postgres.FlushInterval <= 0 {
			errs = append(errs, errors.New("postgres batch_size, buffer_size and flush_interval must be > 0"))
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("alerts.rules[%d]: name is required", i))
		}
		if r.Condition == "" {
			errs = append(errs, fmt.Errorf("alerts.rules[%d]: condition is required", i))
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			errs = append(errs, fmt.Errorf("alerts.rules[%d]: severity %q unknown", i, r.Severity))
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			errs = append(errs, fmt.Errorf("alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type))
		}
	}
	return errors.Join(errs...)
}

// DetectorConfig converts the detector section to a detect.Config. An empty
// rule list selects the default rules.
func (c *Config) DetectorConfig() detect.Config {
	rules := detect.DefaultRules()
	if len(c.Detector.Rules) > 0 {
		rules = make([]detect.Rule, 0, len(c.Detector.Rules))
		for _, r := range c.Detector.Rules {
			rules = append(rules, detect.Rule{
				Signal:    telemetry.Signal(r.Signal),
				Threshold: r.Threshold,
				Category:  r.Category,
			})
		}
	}
	return detect.Config{
		Rules:       rules,
		MinDuration: c.Detector.MinDuration,
		WindowTTL:   c.Detector.WindowTTL,
	}
}

// StrategyConfig converts the scorer section to a strategy.Config.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Scorer
	return strategy.Config{
		Weights: strategy.Weights{
			TireWear:         s.Weights.TireWear,
			SpeedLoss:        s.Weights.SpeedLoss,
			BrakeDegradation: s.Weights.BrakeDegradation,
			AnomalyPenalty:   s.Weights.AnomalyPenalty,
		},
		Cutoffs: strategy.Cutoffs{
			Critical: s.Cutoffs.Critical,
			High:     s.Cutoffs.High,
			Medium:   s.Cutoffs.Medium,
		},
		BrakeBand:         strategy.Band{Low: s.BrakeBand.Low, High: s.BrakeBand.High},
		PenaltyPerAnomaly: s.AnomalyPenalty,
	}
}

func fromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
