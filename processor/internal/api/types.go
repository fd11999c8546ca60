package api

import "github.com/pitwall/pitwall/processor/internal/alerts"

// ServiceResponse is the payload for GET /.
type ServiceResponse struct {
	Service           string  `json:"service"`
	Status            string  `json:"status"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	MessagesProcessed uint64  `json:"messages_processed"`
	AvgThroughput     float64 `json:"avg_throughput"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the payload for GET /stats.
type StatsResponse struct {
	UptimeSeconds          float64 `json:"uptime_seconds"`
	MessagesProcessed      uint64  `json:"messages_processed"`
	AvgThroughputMsgPerSec float64 `json:"avg_throughput_msg_per_sec"`
	AvgLatencyMs           float64 `json:"avg_latency_ms"`
	ActiveAnomalies        int     `json:"active_anomalies"`
	Cars                   int     `json:"cars"`
}

// TelemetryResponse is the payload for POST /telemetry.
type TelemetryResponse struct {
	Status           string            `json:"status"`
	CarID            string            `json:"car_id"`
	Lap              int               `json:"lap"`
	Anomalies        []AnomalyResponse `json:"anomalies"`
	Pitstop          PitstopResponse   `json:"pitstop"`
	ProcessingTimeMs float64           `json:"processing_time_ms"`
}

// AnomalyResponse is one anomaly event.
type AnomalyResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"` // category, e.g. brake_overheat_fl
	Signal      string  `json:"signal"`
	Severity    string  `json:"severity"`
	Value       float64 `json:"value"`
	Peak        float64 `json:"peak"`
	Threshold   float64 `json:"threshold"`
	Duration    float64 `json:"duration"` // seconds
	WindowStart string  `json:"window_start"`
	DetectedAt  string  `json:"detected_at"`
	Message     string  `json:"message"`
}

// PitstopResponse is the pit-stop assessment of one sample.
type PitstopResponse struct {
	Score           float64         `json:"score"`
	Urgency         string          `json:"urgency"`
	Recommendation  string          `json:"recommendation"`
	Details         FactorsResponse `json:"details"`
	ActiveAnomalies int             `json:"active_anomalies"`
}

// FactorsResponse holds the unweighted score factors.
type FactorsResponse struct {
	TireWear         float64 `json:"tire_wear"`
	SpeedLoss        float64 `json:"speed_loss"`
	BrakeDegradation float64 `json:"brake_degradation"`
	AnomalyPenalty   float64 `json:"anomaly_penalty"`
}

// CarResponse is one car in GET /api/v1/cars or GET /api/v1/cars/{id}.
type CarResponse struct {
	CarID         string            `json:"car_id"`
	Driver        string            `json:"driver,omitempty"`
	Lap           int               `json:"lap"`
	TireCompound  string            `json:"tire_compound,omitempty"`
	Timestamp     string            `json:"timestamp"` // RFC3339, sample time
	Pitstop       PitstopResponse   `json:"pitstop"`
	OpenAnomalies []string          `json:"open_anomalies"`
	Anomalies     []AnomalyResponse `json:"anomalies"`
	Hints         []Hint            `json:"hints"`
	Alerts        []*alerts.Alert   `json:"alerts,omitempty"`
	LastSeen      string            `json:"last_seen"` // RFC3339, receive time
}

// BoardResponse is the payload for GET /api/v1/board and the data of the
// WebSocket "board" event.
type BoardResponse struct {
	Cars        []CarResponse `json:"cars"`
	GeneratedAt string        `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
