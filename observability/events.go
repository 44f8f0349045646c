package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oselotti/capreplay/idgen"
)

// Pipeline stage names used by the capture pipeline.
const (
	StageCapture   = "capture"
	StageArtifact  = "artifact"
	StageCorrelate = "correlate"
	StageRule      = "rule"
	StageReplay    = "replay"
)

// PipelineEvent is one notable domain action to record.
type PipelineEvent struct {
	Stage      string
	EntityType string // "session", "artifact", "rule", "run"
	EntityID   string
	SessionID  string
	Action     string // "ingested", "finalized", "linked", "derived", ...
	Details    string // optional JSON
	Success    bool
}

// EventLogger writes pipeline events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a pipeline event. Errors are logged via slog but do
// not propagate, so a failing observability store never blocks the
// pipeline.
func (l *EventLogger) LogEvent(ctx context.Context, event PipelineEvent) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			event_id, stage, entity_type, entity_id, session_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.Stage, event.EntityType, event.EntityID, event.SessionID,
		event.Action, event.Details, boolInt(event.Success), time.Now().Unix())
	if err != nil {
		slog.Error("observability: pipeline event write failed",
			"error", err, "stage", event.Stage, "action", event.Action)
	}
}

// QueryEvents returns events for a stage (empty = all), newest first.
func (l *EventLogger) QueryEvents(ctx context.Context, stage string, limit int) ([]PipelineEvent, error) {
	q := `SELECT stage, entity_type, entity_id, session_id, action, details, success
	      FROM pipeline_events`
	args := []any{}
	if stage != "" {
		q += ` WHERE stage = ?`
		args = append(args, stage)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipeline events: %w", err)
	}
	defer rows.Close()

	var out []PipelineEvent
	for rows.Next() {
		var ev PipelineEvent
		var sessionID, details sql.NullString
		var success int
		if err := rows.Scan(&ev.Stage, &ev.EntityType, &ev.EntityID,
			&sessionID, &ev.Action, &details, &success); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.Details = details.String
		ev.Success = success != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *EventLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := l.db.ExecContext(ctx,
		"DELETE FROM pipeline_events WHERE created_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup pipeline events: %w", err)
	}
	return result.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
