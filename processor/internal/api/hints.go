package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
	"github.com/pitwall/pitwall/processor/internal/strategy"
)

// Hint is one human-readable insight about a car, shown as a chip on the
// race engineer's board.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string   `json:"level"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Value  *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

var cornerNames = map[string]string{
	"fl": "front-left",
	"fr": "front-right",
	"rl": "rear-left",
	"rr": "rear-right",
}

// computeHints derives hints from a car's latest result, critical first.
func computeHints(r *pipeline.Result) []Hint {
	var hints []Hint

	peaks := make(map[string]detect.Event, len(r.Anomalies))
	for _, ev := range r.Anomalies {
		peaks[ev.Category] = ev
	}

	// ── Open overheat windows ────────────────────────────────────────────────
	for _, cat := range r.Open {
		hints = append(hints, overheatHint(cat, peaks))
	}

	// ── Tire wear ────────────────────────────────────────────────────────────
	if wear := r.Assessment.Factors.TireWear; wear >= 60 {
		v := wear
		h := Hint{Key: "tire_wear", Value: &v}
		if wear >= 80 {
			h.Level = "warning"
			h.Title = fmt.Sprintf("Tires %.0f%% worn", wear)
			h.Detail = fmt.Sprintf(
				"Tire wear is at %.0f%%. Grip falls away quickly past this point "+
					"and lap times will start to drop. Plan the stop before the next stint.",
				wear)
		} else {
			h.Level = "info"
			h.Title = fmt.Sprintf("Tires %.0f%% worn", wear)
			h.Detail = fmt.Sprintf("Tire wear is at %.0f%%. Nothing urgent yet, keep watching the trend.", wear)
		}
		hints = append(hints, h)
	}

	// ── Speed loss against the lap's best ────────────────────────────────────
	if loss := r.Assessment.Factors.SpeedLoss; loss >= 10 {
		v := loss
		hints = append(hints, Hint{
			Key:   "speed_loss",
			Level: "info",
			Title: fmt.Sprintf("%.0f%% off lap pace", loss),
			Detail: fmt.Sprintf(
				"Current speed is %.0f%% below the fastest speed seen this lap. "+
					"This is normal in slow corners; sustained loss on straights points to a problem.",
				loss),
			Value: &v,
		})
	}

	// ── Pit window ───────────────────────────────────────────────────────────
	a := r.Assessment
	switch a.Urgency {
	case strategy.UrgencyCritical, strategy.UrgencyHigh:
		score := a.Score
		level := "warning"
		if a.Urgency == strategy.UrgencyCritical {
			level = "critical"
		}
		hints = append(hints, Hint{
			Key:    "pit_window",
			Level:  level,
			Title:  "Pit window open",
			Detail: fmt.Sprintf("Pit-stop score is %.0f/100. %s.", score, a.Recommendation),
			Value:  &score,
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		score := a.Score
		hints = append(hints, Hint{
			Key:   "nominal",
			Level: "ok",
			Title: "All systems nominal",
			Detail: fmt.Sprintf(
				"No overheating on brakes, tires or engine and a pit-stop score of %.0f/100. %s.",
				score, a.Recommendation),
			Value: &score,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

// overheatHint describes one open overheat window. The window may still be
// shorter than the minimum duration, in which case it is only a warning.
func overheatHint(category string, events map[string]detect.Event) Hint {
	part, corner := splitCategory(category)
	where := part
	if name, ok := cornerNames[corner]; ok {
		where = name + " " + part
	}

	ev, confirmed := events[category]
	if !confirmed {
		return Hint{
			Key:   category,
			Level: "warning",
			Title: fmt.Sprintf("%s running hot", capitalize(part)),
			Detail: fmt.Sprintf(
				"The %s is above its limit. It has not stayed there long enough to count as an anomaly yet.",
				where),
		}
	}

	peak := ev.Peak
	return Hint{
		Key:   category,
		Level: "critical",
		Title: fmt.Sprintf("%s overheating", capitalize(part)),
		Detail: fmt.Sprintf(
			"The %s has been above %.0f for %.1fs, peaking at %.1f. "+
				"Sustained overheating degrades the part quickly.",
			where, ev.Threshold, ev.Duration.Seconds(), peak),
		Value: &peak,
	}
}

// splitCategory turns "brake_overheat_fl" into ("brake", "fl") and
// "engine_overheat" into ("engine", "").
func splitCategory(category string) (part, corner string) {
	fields := strings.Split(category, "_")
	part = fields[0]
	if len(fields) > 2 {
		corner = fields[len(fields)-1]
	}
	if part == "" {
		part = category
	}
	return part, corner
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
