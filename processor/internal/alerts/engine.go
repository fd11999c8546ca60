package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pitwall/pitwall/processor/internal/config"
	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert kinds.
const (
	KindAnomaly = "anomaly"
	KindRule    = "rule"
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert produced by the engine.
type Alert struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RuleName    string     `json:"rule_name"` // rule name, or the anomaly category
	CarID       string     `json:"car_id"`
	Severity    string     `json:"severity"`
	Message     string     `json:"message"`
	Value       float64    `json:"value"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	FiredAt     time.Time  `json:"fired_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	State       string     `json:"state"`
}

// Engine evaluates results and delivers webhook notifications when alerts
// fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	cooldown time.Duration
	active   map[string]*Alert    // key: "kind:name:carID"
	lastFire map[string]map[string]time.Time // car ID -> rule key -> last fire (for cooldown)
	history  []*Alert             // recently resolved alerts

	client   *http.Client
	now      func() time.Time
	dispatch func(*Alert)
	notify   []func(*Alert)
}

// New creates an Engine from the alert configuration. Anomaly alerts are
// always evaluated; an empty rule list only disables rule alerts.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.dispatch = func(a *Alert) { go e.deliver(a) }
	e.Reload(cfg)
	return e
}

// Reload replaces the rules, webhooks and default cooldown. Firing alerts of
// removed rules resolve on the car's next result.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]config.AlertRule(nil), cfg.Rules...)
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	e.cooldown = cooldown
}

// OnResult implements pipeline.Listener.
func (e *Engine) OnResult(_ context.Context, r *pipeline.Result) { e.Evaluate(r) }

// Evaluate processes the anomalies and assessment in r.
func (e *Engine) Evaluate(r *pipeline.Result) {
	now := e.now()

	e.mu.Lock()
	var out []*Alert
	out = append(out, e.evaluateAnomalies(r, now)...)
	out = append(out, e.evaluateRules(r, now)...)
	notify := e.notify
	e.mu.Unlock()

	for _, a := range out {
		e.dispatch(a)
		for _, fn := range notify {
			fn(a)
		}
	}
}

// Forget resolves every firing alert of carID and drops its cooldown state.
// It is called when the car's processing state is evicted, since no further
// result for the car will resolve them.
func (e *Engine) Forget(carID string) {
	now := e.now()

	e.mu.Lock()
	var out []*Alert
	for key, a := range e.active {
		if a.CarID == carID {
			out = append(out, e.resolveLocked(key, a, now))
		}
	}
	delete(e.lastFire, carID)
	notify := e.notify
	e.mu.Unlock()

	if len(out) > 0 {
		slog.Info("alerts: resolved alerts of evicted car", "car", carID, "count", len(out))
	}
	for _, a := range out {
		e.dispatch(a)
		for _, fn := range notify {
			fn(a)
		}
	}
}

// Notify registers fn to be called synchronously for every alert that fires
// or resolves, after webhook delivery has been scheduled.
func (e *Engine) Notify(fn func(*Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = append(e.notify, fn)
}

// evaluateAnomalies fires one alert per detection window and resolves alerts
// whose category is no longer open. Caller holds e.mu.
func (e *Engine) evaluateAnomalies(r *pipeline.Result, now time.Time) []*Alert {
	var out []*Alert

	for i := range r.Anomalies {
		ev := &r.Anomalies[i]
		key := KindAnomaly + ":" + ev.Category + ":" + r.CarID
		if cur, ok := e.active[key]; ok {
			if cur.WindowStart != nil && cur.WindowStart.Equal(ev.WindowStart) {
				continue
			}
			out = append(out, e.resolveLocked(key, cur, now))
		}
		a := anomalyAlert(ev, now)
		e.active[key] = a
		cp := *a
		out = append(out, &cp)
		slog.Warn("alerts: anomaly alert fired",
			"car", r.CarID, "category", ev.Category, "value", ev.Value)
	}

	open := make(map[string]bool, len(r.Open))
	for _, c := range r.Open {
		open[c] = true
	}
	for key, a := range e.active {
		if a.Kind != KindAnomaly || a.CarID != r.CarID || open[a.RuleName] {
			continue
		}
		out = append(out, e.resolveLocked(key, a, now))
		slog.Info("alerts: anomaly alert resolved", "car", r.CarID, "category", a.RuleName)
	}
	return out
}

// evaluateRules tests every configured rule against r. Caller holds e.mu.
func (e *Engine) evaluateRules(r *pipeline.Result, now time.Time) []*Alert {
	var out []*Alert
	names := make(map[string]bool, len(e.rules))

	for _, rule := range e.rules {
		names[rule.Name] = true
		key := KindRule + ":" + rule.Name + ":" + r.CarID
		fires, value := evalCondition(rule.Condition, r)

		if !fires {
			if a, ok := e.active[key]; ok {
				out = append(out, e.resolveLocked(key, a, now))
				slog.Info("alerts: rule alert resolved", "rule", rule.Name, "car", r.CarID)
			}
			continue
		}

		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = e.cooldown
		}
		if last, ok := e.lastFire[r.CarID][key]; ok && now.Sub(last) <= cooldown {
			continue
		}
		sev := rule.Severity
		if sev == "" {
			sev = "warning"
		}
		a := &Alert{
			ID:       fmt.Sprintf("%s:%s:%d", rule.Name, r.CarID, now.UnixNano()),
			Kind:     KindRule,
			RuleName: rule.Name,
			CarID:    r.CarID,
			Severity: sev,
			Value:    value,
			Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f, lap %d)",
				sev, rule.Name, r.CarID, rule.Condition, value, r.Lap),
			FiredAt: now,
			State:   StateFiring,
		}
		e.active[key] = a
		if e.lastFire[r.CarID] == nil {
			e.lastFire[r.CarID] = make(map[string]time.Time)
		}
		e.lastFire[r.CarID][key] = now
		cp := *a
		out = append(out, &cp)
		slog.Warn("alerts: rule alert fired",
			"rule", rule.Name, "car", r.CarID, "value", value, "severity", sev)
	}

	// Resolve alerts of rules removed by a reload.
	for key, a := range e.active {
		if a.Kind == KindRule && a.CarID == r.CarID && !names[a.RuleName] {
			out = append(out, e.resolveLocked(key, a, now))
		}
	}
	return out
}

// resolveLocked moves a firing alert to history and returns a copy for
// delivery. Caller holds e.mu.
func (e *Engine) resolveLocked(key string, a *Alert, now time.Time) *Alert {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

func anomalyAlert(ev *detect.Event, now time.Time) *Alert {
	start := ev.WindowStart
	return &Alert{
		ID:          ev.ID,
		Kind:        KindAnomaly,
		RuleName:    ev.Category,
		CarID:       ev.CarID,
		Severity:    ev.Severity,
		Message:     ev.Message,
		Value:       ev.Value,
		WindowStart: &start,
		FiredAt:     now,
		State:       StateFiring,
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// ForCar returns the currently firing alerts of carID.
func (e *Engine) ForCar(carID string) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Alert
	for _, a := range e.active {
		if a.CarID == carID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	return out
}
