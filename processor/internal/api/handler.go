package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pitwall/pitwall/processor/internal/alerts"
	"github.com/pitwall/pitwall/processor/internal/detect"
	"github.com/pitwall/pitwall/processor/internal/pipeline"
	"github.com/pitwall/pitwall/processor/internal/store"
	"github.com/pitwall/pitwall/processor/internal/strategy"
	"github.com/pitwall/pitwall/processor/internal/telemetry"
)

const (
	serviceName     = "pitwall-processor"
	maxTelemetryLen = 1 << 20
)

// Processor is the part of *pipeline.Processor the API needs.
type Processor interface {
	Process(ctx context.Context, s *telemetry.Sample) (*pipeline.Result, error)
	Stats() pipeline.Stats
}

// AlertSource is the part of *alerts.Engine the API needs.
type AlertSource interface {
	Active() []*alerts.Alert
	ForCar(carID string) []*alerts.Alert
}

// DecodeObserver counts rejected payloads. *metrics.Collectors satisfies it.
type DecodeObserver interface {
	ObserveDecodeError(transport string)
}

// Handler is the HTTP handler for the processor's REST endpoints.
type Handler struct {
	proc   Processor
	board  *store.Board
	alerts AlertSource
	obs    DecodeObserver
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler and registers all routes. alerts and obs may be nil.
func New(proc Processor, board *store.Board, al AlertSource, obs DecodeObserver) http.Handler {
	h := &Handler{
		proc:   proc,
		board:  board,
		alerts: al,
		obs:    obs,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}

	h.mux.HandleFunc("/", h.root)
	h.mux.HandleFunc("/telemetry", h.telemetry)
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/stats", h.stats)
	h.mux.HandleFunc("/api/v1/cars", h.listCars)
	h.mux.HandleFunc("/api/v1/cars/", h.getCar) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/board", h.boardSnapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// root returns GET / with service info. Every other unmatched path is a 404.
func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.proc.Stats()
	jsonResp(w, http.StatusOK, ServiceResponse{
		Service:           serviceName,
		Status:            "running",
		UptimeSeconds:     round2(st.Uptime.Seconds()),
		MessagesProcessed: st.MessagesProcessed,
		AvgThroughput:     round2(st.AvgThroughput),
	})
}

// telemetry handles POST /telemetry: decode one sample, process it and
// return its anomalies and pit-stop assessment.
func (h *Handler) telemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryLen))
	if err != nil {
		h.decodeError()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	sample, err := telemetry.Decode(body, h.now())
	if err != nil {
		h.decodeError()
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.proc.Process(r.Context(), sample)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	jsonResp(w, http.StatusOK, TelemetryResponse{
		Status:           "processed",
		CarID:            res.CarID,
		Lap:              res.Lap,
		Anomalies:        toAnomalies(res.Anomalies),
		Pitstop:          toPitstop(res.Assessment),
		ProcessingTimeMs: round2(float64(res.ProcessingTime.Microseconds()) / 1000),
	})
}

// health returns GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// stats returns GET /stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.proc.Stats()
	jsonResp(w, http.StatusOK, StatsResponse{
		UptimeSeconds:          round2(st.Uptime.Seconds()),
		MessagesProcessed:      st.MessagesProcessed,
		AvgThroughputMsgPerSec: round2(st.AvgThroughput),
		AvgLatencyMs:           round2(st.AvgLatencyMs),
		ActiveAnomalies:        st.ActiveAnomalies,
		Cars:                   st.Cars,
	})
}

// listCars returns GET /api/v1/cars, every live car on the board.
func (h *Handler) listCars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := h.board.List()
	out := make([]CarResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toCarResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getCar returns GET /api/v1/cars/{id} with hints and firing alerts.
func (h *Handler) getCar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/cars/")
	if id == "" {
		h.listCars(w, r)
		return
	}

	e, ok := h.board.Get(id)
	if !ok || h.board.Stale(e, h.now()) {
		jsonErr(w, http.StatusNotFound, "car not found")
		return
	}

	resp := toCarResponse(e)
	if h.alerts != nil {
		for _, a := range h.alerts.ForCar(id) {
			if a.State == alerts.StateFiring {
				resp.Alerts = append(resp.Alerts, a)
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts, firing and recently resolved alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// boardSnapshot returns GET /api/v1/board.
func (h *Handler) boardSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildBoard(h.board, h.now()))
}

func (h *Handler) decodeError() {
	if h.obs != nil {
		h.obs.ObserveDecodeError("http")
	}
}

// --- helpers ----------------------------------------------------------------

// BuildBoard renders every live car on b. The WebSocket hub broadcasts the
// same value.
func BuildBoard(b *store.Board, now time.Time) BoardResponse {
	entries := b.List()
	cars := make([]CarResponse, 0, len(entries))
	for _, e := range entries {
		cars = append(cars, toCarResponse(e))
	}
	return BoardResponse{
		Cars:        cars,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func toAnomalies(evs []detect.Event) []AnomalyResponse {
	out := make([]AnomalyResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, AnomalyResponse{
			ID:          ev.ID,
			Type:        ev.Category,
			Signal:      string(ev.Signal),
			Severity:    ev.Severity,
			Value:       ev.Value,
			Peak:        ev.Peak,
			Threshold:   ev.Threshold,
			Duration:    round2(ev.Duration.Seconds()),
			WindowStart: ev.WindowStart.UTC().Format(time.RFC3339Nano),
			DetectedAt:  ev.DetectedAt.UTC().Format(time.RFC3339Nano),
			Message:     ev.Message,
		})
	}
	return out
}

func toPitstop(a strategy.Assessment) PitstopResponse {
	return PitstopResponse{
		Score:          round2(a.Score),
		Urgency:        a.Urgency,
		Recommendation: a.Recommendation,
		Details: FactorsResponse{
			TireWear:         round2(a.Factors.TireWear),
			SpeedLoss:        round2(a.Factors.SpeedLoss),
			BrakeDegradation: round2(a.Factors.BrakeDegradation),
			AnomalyPenalty:   round2(a.Factors.AnomalyPenalty),
		},
		ActiveAnomalies: a.ActiveAnomalies,
	}
}

// toCarResponse maps a store.Entry to its JSON representation.
func toCarResponse(e *store.Entry) CarResponse {
	res := e.Result
	open := res.Open
	if open == nil {
		open = []string{}
	}
	return CarResponse{
		CarID:         res.CarID,
		Driver:        res.Driver,
		Lap:           res.Lap,
		TireCompound:  res.TireCompound,
		Timestamp:     res.Timestamp.UTC().Format(time.RFC3339Nano),
		Pitstop:       toPitstop(res.Assessment),
		OpenAnomalies: open,
		Anomalies:     toAnomalies(res.Anomalies),
		Hints:         computeHints(res),
		LastSeen:      e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
