package detect

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

// SeverityCritical is the only severity the detector emits.
const SeverityCritical = "critical"

// Defaults applied by DefaultConfig.
const (
	DefaultMinDuration = 2 * time.Second
	DefaultWindowTTL   = 10 * time.Second

	DefaultBrakeThreshold  = 950.0
	DefaultTireThreshold   = 130.0
	DefaultEngineThreshold = 125.0
)

// Rule maps one signal to its exclusive upper threshold and the category
// reported when the threshold is exceeded for long enough.
type Rule struct {
	Signal    telemetry.Signal
	Threshold float64
	Category  string
}

// Config is the immutable detector configuration.
type Config struct {
	Rules       []Rule
	MinDuration time.Duration
	// WindowTTL bounds how long a window may stay open without a new sample
	// for its signal before Evict discards it.
	WindowTTL time.Duration
}

// DefaultRules returns the brake, tire and engine over-temperature rules.
func DefaultRules() []Rule {
	corners := []string{"fl", "fr", "rl", "rr"}
	rules := make([]Rule, 0, 9)
	for i, pos := range corners {
		rules = append(rules, Rule{
			Signal:    telemetry.BrakeTemps[i],
			Threshold: DefaultBrakeThreshold,
			Category:  "brake_overheat_" + pos,
		})
	}
	for i, pos := range corners {
		rules = append(rules, Rule{
			Signal:    telemetry.TireTemps[i],
			Threshold: DefaultTireThreshold,
			Category:  "tire_overheat_" + pos,
		})
	}
	rules = append(rules, Rule{
		Signal:    telemetry.EngineTemp,
		Threshold: DefaultEngineThreshold,
		Category:  "engine_overheat",
	})
	return rules
}

// DefaultConfig returns the stock rule set with a 2s minimum duration.
func DefaultConfig() Config {
	return Config{
		Rules:       DefaultRules(),
		MinDuration: DefaultMinDuration,
		WindowTTL:   DefaultWindowTTL,
	}
}

// Validate reports configuration errors. Each signal may appear in at most
// one rule.
func (c Config) Validate() error {
	var errs []error
	if len(c.Rules) == 0 {
		errs = append(errs, errors.New("at least one rule is required"))
	}
	if c.MinDuration <= 0 {
		errs = append(errs, fmt.Errorf("min_duration must be > 0, got %s", c.MinDuration))
	}
	if c.WindowTTL < 0 {
		errs = append(errs, fmt.Errorf("window_ttl must be >= 0, got %s", c.WindowTTL))
	}
	seen := make(map[telemetry.Signal]bool, len(c.Rules))
	for i, r := range c.Rules {
		if !telemetry.Known(r.Signal) {
			errs = append(errs, fmt.Errorf("rules[%d]: unknown signal %q", i, r.Signal))
		}
		if seen[r.Signal] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate signal %q", i, r.Signal))
		}
		seen[r.Signal] = true
		if r.Threshold < 0 || math.IsNaN(r.Threshold) {
			errs = append(errs, fmt.Errorf("rules[%d]: threshold must be >= 0, got %g", i, r.Threshold))
		}
		if r.Category == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: category is required", i))
		}
	}
	return errors.Join(errs...)
}
