package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/pitwall/pitwall/processor/internal/pipeline"
)

// Schema creates the tables PostgresSink writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS anomaly_events (
	id               TEXT PRIMARY KEY,
	car_id           TEXT NOT NULL,
	category         TEXT NOT NULL,
	severity         TEXT NOT NULL,
	value            DOUBLE PRECISION NOT NULL,
	peak             DOUBLE PRECISION NOT NULL,
	threshold        DOUBLE PRECISION NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL,
	window_start     TIMESTAMPTZ NOT NULL,
	detected_at      TIMESTAMPTZ NOT NULL,
	message          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS anomaly_events_car_detected ON anomaly_events (car_id, detected_at);

CREATE TABLE IF NOT EXISTS pitstop_assessments (
	car_id            TEXT NOT NULL,
	lap               INTEGER NOT NULL,
	ts                TIMESTAMPTZ NOT NULL,
	score             DOUBLE PRECISION NOT NULL,
	urgency           TEXT NOT NULL,
	tire_wear         DOUBLE PRECISION NOT NULL,
	speed_loss        DOUBLE PRECISION NOT NULL,
	brake_degradation DOUBLE PRECISION NOT NULL,
	anomaly_penalty   DOUBLE PRECISION NOT NULL,
	active_anomalies  INTEGER NOT NULL,
	PRIMARY KEY (car_id, ts)
);
`

var (
	eventColumns = []string{
		"id", "car_id", "category", "severity", "value", "peak", "threshold",
		"duration_seconds", "window_start", "detected_at", "message",
	}
	assessmentColumns = []string{
		"car_id", "lap", "ts", "score", "urgency", "tire_wear", "speed_loss",
		"brake_degradation", "anomaly_penalty", "active_anomalies",
	}
)

// PostgresSink inserts anomaly events and assessments in one transaction per
// batch. Rows already present are skipped, so a retried batch is harmless.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres opens and pings a pgx-backed database/sql handle.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("persist: postgres: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: postgres: ping: %w", err)
	}
	return db, nil
}

// Name implements Sink.
func (p *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("persist: postgres: schema: %w", err)
	}
	return nil
}

// Write implements Sink.
func (p *PostgresSink) Write(ctx context.Context, batch []*pipeline.Result) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist: postgres: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	query, args := assessmentInsert(batch)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("persist: postgres: insert assessments: %w", err)
	}

	if query, args := eventInsert(batch); query != "" {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("persist: postgres: insert events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: postgres: commit: %w", err)
	}
	return nil
}

func assessmentInsert(batch []*pipeline.Result) (string, []any) {
	args := make([]any, 0, len(batch)*len(assessmentColumns))
	for _, r := range batch {
		a := r.Assessment
		args = append(args,
			r.CarID,
			r.Lap,
			r.Timestamp,
			a.Score,
			a.Urgency,
			a.Factors.TireWear,
			a.Factors.SpeedLoss,
			a.Factors.BrakeDegradation,
			a.Factors.AnomalyPenalty,
			a.ActiveAnomalies,
		)
	}
	return insertSQL("pitstop_assessments", assessmentColumns, len(batch)), args
}

// eventInsert returns an empty query when the batch carries no events.
func eventInsert(batch []*pipeline.Result) (string, []any) {
	var args []any
	rows := 0
	for _, r := range batch {
		for _, ev := range r.Anomalies {
			args = append(args,
				ev.ID,
				ev.CarID,
				ev.Category,
				ev.Severity,
				ev.Value,
				ev.Peak,
				ev.Threshold,
				ev.Duration.Seconds(),
				ev.WindowStart,
				ev.DetectedAt,
				ev.Message,
			)
			rows++
		}
	}
	if rows == 0 {
		return "", nil
	}
	return insertSQL("anomaly_events", eventColumns, rows), args
}

// insertSQL builds a multi-row INSERT with positional placeholders.
func insertSQL(table string, columns []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	n := 0
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(",")
			}
			n++
			fmt.Fprintf(&b, "$%d", n)
		}
		b.WriteString(")")
	}
	b.WriteString(" ON CONFLICT DO NOTHING")
	return b.String()
}
