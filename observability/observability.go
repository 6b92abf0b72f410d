// Package observability records review-domain events and HTTP traffic in a
// dedicated SQLite database, separate from the session stores so event
// volume never contends with review writes.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/clauseguard/clauseguard/idgen"
)

// Schema is the DDL for the observability database.
const Schema = `
CREATE TABLE IF NOT EXISTS review_events (
    event_id   TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    session_id TEXT,
    entity_id  TEXT,
    details    TEXT,
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_review_events_type
    ON review_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_review_events_session
    ON review_events(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS http_request_logs (
    log_id      TEXT PRIMARY KEY,
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    status_code INTEGER,
    duration_ms INTEGER,
    session_id  TEXT,
    remote_addr TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_http_logs_time
    ON http_request_logs(created_at DESC);
`

// Init applies the observability schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Review event types.
const (
	EventSessionOpened    = "session_opened"
	EventSessionClosed    = "session_closed"
	EventClauseAnalyzed   = "clause_analyzed"
	EventDecisionRecorded = "decision_recorded"
	EventContractRebuilt  = "contract_regenerated"
	EventReportRendered   = "report_rendered"
	EventQuestionAnswered = "question_answered"
	EventStatutesIngested = "statutes_ingested"
)

// Event is one domain-level event.
type Event struct {
	Type      string
	SessionID string
	EntityID  string
	Details   string // optional JSON
	Success   bool
}

// EventLogger writes review events. Write failures are logged via slog and
// never propagate; an unavailable observability store must not block a
// review.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB) *EventLogger {
	return &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
}

// Log records one event.
func (l *EventLogger) Log(ctx context.Context, e Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO review_events (event_id, event_type, session_id, entity_id, details, success, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		l.newID(), e.Type, e.SessionID, e.EntityID, e.Details, boolToInt(e.Success), time.Now().Unix())
	if err != nil {
		slog.Error("review event log failed", "event_type", e.Type, "error", err)
	}
}

// RetentionConfig specifies per-table retention in days. Zero disables
// cleanup for that table.
type RetentionConfig struct {
	EventsDays   int  `json:"events_days" yaml:"events_days"`
	HTTPLogsDays int  `json:"http_logs_days" yaml:"http_logs_days"`
	Vacuum       bool `json:"vacuum" yaml:"vacuum"`
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		table string
		days  int
	}{
		{"review_events", cfg.EventsDays},
		{"http_request_logs", cfg.HTTPLogsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days)*86400
		q := fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", t.table)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}
	if cfg.Vacuum {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
