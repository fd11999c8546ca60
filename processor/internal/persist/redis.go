package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

// RedisSink mirrors each car's latest assessment into a hash and publishes
// every anomaly event, for dashboards that read Redis directly.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink wraps client. Hashes expire ttl after their last update; a
// non-positive ttl keeps them forever.
func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, ttl: ttl}
}

// OpenRedis creates a client and pings it.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("persist: redis: ping %s: %w", addr, err)
	}
	return client, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Write implements Sink. Only the newest result per car is written to the
// hash; every event in the batch is published.
func (s *RedisSink) Write(ctx context.Context, batch []*pipeline.Result) error {
	if len(batch) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, r := range latestPerCar(batch) {
		key := pitstopKey(r.CarID)
		pipe.HSet(ctx, key, stateFields(r))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	for _, r := range batch {
		for i := range r.Anomalies {
			payload, err := eventPayload(&r.Anomalies[i])
			if err != nil {
				return fmt.Errorf("persist: redis: encode event: %w", err)
			}
			pipe.Publish(ctx, anomalyChannel(r.CarID), payload)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist: redis: pipeline: %w", err)
	}
	return nil
}

func pitstopKey(carID string) string { return fmt.Sprintf("car:%s:pitstop", carID) }

func anomalyChannel(carID string) string { return fmt.Sprintf("car:%s:anomalies", carID) }

// latestPerCar keeps the last result of each car, in first-seen order.
func latestPerCar(batch []*pipeline.Result) []*pipeline.Result {
	idx := make(map[string]int, len(batch))
	var out []*pipeline.Result
	for _, r := range batch {
		if i, ok := idx[r.CarID]; ok {
			out[i] = r
			continue
		}
		idx[r.CarID] = len(out)
		out = append(out, r)
	}
	return out
}

func stateFields(r *pipeline.Result) map[string]interface{} {
	a := r.Assessment
	return map[string]interface{}{
		"car_id":            r.CarID,
		"driver":            r.Driver,
		"lap":               r.Lap,
		"score":             a.Score,
		"urgency":           a.Urgency,
		"recommendation":    a.Recommendation,
		"tire_wear":         a.Factors.TireWear,
		"speed_loss":        a.Factors.SpeedLoss,
		"brake_degradation": a.Factors.BrakeDegradation,
		"anomaly_penalty":   a.Factors.AnomalyPenalty,
		"active_anomalies":  a.ActiveAnomalies,
		"open":              strings.Join(r.Open, ","),
		"timestamp":         r.Timestamp.UnixMilli(),
	}
}

type eventMessage struct {
	ID          string  `json:"id"`
	CarID       string  `json:"car_id"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Value       float64 `json:"value"`
	Peak        float64 `json:"peak"`
	Threshold   float64 `json:"threshold"`
	DurationSec float64 `json:"duration_seconds"`
	WindowStart int64   `json:"window_start"` // unix ms
	DetectedAt  int64   `json:"detected_at"`  // unix ms
	Message     string  `json:"message"`
}

func eventPayload(ev *detect.Event) ([]byte, error) {
	return json.Marshal(eventMessage{
		ID:          ev.ID,
		CarID:       ev.CarID,
		Category:    ev.Category,
		Severity:    ev.Severity,
		Value:       ev.Value,
		Peak:        ev.Peak,
		Threshold:   ev.Threshold,
		DurationSec: ev.Duration.Seconds(),
		WindowStart: ev.WindowStart.UnixMilli(),
		DetectedAt:  ev.DetectedAt.UnixMilli(),
		Message:     ev.Message,
	})
}
