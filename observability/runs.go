package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oselotti/capreplay/idgen"
)

// RunRecord is one replay execution in the run history.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	RuleID     string    `json:"rule_id"`
	Status     string    `json:"status"` // "completed", "failed", "navigated"
	Note       string    `json:"note,omitempty"`
	Error      string    `json:"error,omitempty"`
	FailedStep int       `json:"failed_step,omitempty"`
	StepsRun   int       `json:"steps_run"`
	OpenedTabs int       `json:"opened_tabs"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// RunLogger persists replay run records asynchronously. Buffer overflow
// drops the record rather than applying backpressure to the engine.
type RunLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *RunRecord
	stop  chan struct{}
	done  chan struct{}
}

// NewRunLogger creates an async run logger. Recommended bufferSize: 256.
func NewRunLogger(db *sql.DB, bufferSize int) *RunLogger {
	r := &RunLogger{
		db:    db,
		newID: idgen.Prefixed("run_", idgen.Default),
		ch:    make(chan *RunRecord, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Record queues a run record. Non-blocking.
func (r *RunLogger) Record(rec RunRecord) {
	if rec.RunID == "" {
		rec.RunID = r.newID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	select {
	case r.ch <- &rec:
	default:
		slog.Warn("observability: run log buffer full, dropping record",
			"rule_id", rec.RuleID)
	}
}

// History returns the run records for a rule (empty = all), newest first.
func (r *RunLogger) History(ctx context.Context, ruleID string, limit int) ([]RunRecord, error) {
	q := `SELECT run_id, rule_id, status, note, error, failed_step,
	             steps_run, opened_tabs, duration_ms, started_at
	      FROM replay_runs`
	args := []any{}
	if ruleID != "" {
		q += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	q += ` ORDER BY started_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query replay runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var note, errMsg sql.NullString
		var failedStep sql.NullInt64
		var startedAt int64
		if err := rows.Scan(&rec.RunID, &rec.RuleID, &rec.Status, &note, &errMsg,
			&failedStep, &rec.StepsRun, &rec.OpenedTabs, &rec.DurationMS, &startedAt); err != nil {
			return nil, fmt.Errorf("scan replay run: %w", err)
		}
		rec.Note = note.String
		rec.Error = errMsg.String
		rec.FailedStep = int(failedStep.Int64)
		rec.StartedAt = time.Unix(startedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close drains queued records and stops the background writer.
func (r *RunLogger) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

func (r *RunLogger) writeLoop() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.ch:
			r.write(rec)
		case <-r.stop:
			for {
				select {
				case rec := <-r.ch:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *RunLogger) write(rec *RunRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO replay_runs (
			run_id, rule_id, status, note, error, failed_step,
			steps_run, opened_tabs, duration_ms, started_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.RuleID, rec.Status, rec.Note, rec.Error, rec.FailedStep,
		rec.StepsRun, rec.OpenedTabs, rec.DurationMS, rec.StartedAt.Unix())
	if err != nil {
		slog.Error("observability: replay run write failed",
			"error", err, "rule_id", rec.RuleID)
	}
}
