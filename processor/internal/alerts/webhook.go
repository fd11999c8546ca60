package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pitwall/pitwall/processor/internal/config"
)

// deliverTimeout bounds one webhook POST including the response.
const deliverTimeout = 5 * time.Second

// deliver posts a to every configured webhook. Failures are logged and never
// reach the caller.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	webhooks := append([]config.WebhookConfig(nil), e.webhooks...)
	e.mu.Unlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		body, err := webhookBody(wh.Type, a)
		if err != nil {
			slog.Warn("alerts: skipping webhook", "type", wh.Type, "err", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		err = e.post(ctx, url, body)
		cancel()
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "car_id", a.CarID, "rule", a.RuleName, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "car_id", a.CarID, "rule", a.RuleName, "state", a.State)
	}
}

// webhookBody renders a in the format expected by the given webhook type.
func webhookBody(kind string, a *Alert) ([]byte, error) {
	switch kind {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s %s: %s", stateLabel(a), a.CarID, a.RuleName, a.Message),
		})
	case "teams":
		return json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a.Severity),
			"summary":    a.RuleName,
			"title":      fmt.Sprintf("Pitwall %s: %s on %s", a.Kind, a.RuleName, a.CarID),
			"text":       fmt.Sprintf("%s %s", stateLabel(a), a.Message),
			"sections":   []map[string]interface{}{{"facts": alertFacts(a)}},
		})
	case "http":
		return json.Marshal(map[string]interface{}{"alert": a})
	default:
		return nil, fmt.Errorf("unknown webhook type %q", kind)
	}
}

// alertFacts lists the car-level details shown on a Teams card.
func alertFacts(a *Alert) []map[string]string {
	facts := []map[string]string{
		{"name": "Car", "value": a.CarID},
		{"name": "State", "value": a.State},
		{"name": "Value", "value": strconv.FormatFloat(a.Value, 'f', 1, 64)},
	}
	if a.WindowStart != nil {
		facts = append(facts, map[string]string{"name": "Since", "value": a.WindowStart.UTC().Format(time.RFC3339)})
	}
	return facts
}

func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateLabel(a *Alert) string {
	if a.State == StateResolved {
		return "[RESOLVED]"
	}
	return severityLabel(a.Severity)
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

// severityColor is the Teams card accent for a severity.
func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
