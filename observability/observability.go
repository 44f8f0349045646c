// Package observability provides SQLite-native monitoring for the
// capture pipeline: pipeline event records, daemon heartbeats, metric
// timeseries, and replay run history.
//
// Components write to a shared observability database, separate from
// the pipeline databases to avoid write contention. Call Init on the
// shared *sql.DB first, then pass it to the individual constructors.
//
// All persistence is async and non-blocking: a failing observability
// store never blocks the pipeline.
package observability

import "database/sql"

// Schema contains the DDL for the observability tables.
const Schema = `
-- Pipeline events: one row per notable domain action.
CREATE TABLE IF NOT EXISTS pipeline_events (
    event_id   TEXT PRIMARY KEY,
    stage      TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id  TEXT NOT NULL,
    session_id TEXT,
    action     TEXT NOT NULL,
    details    TEXT,
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_stage_time
    ON pipeline_events(stage, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_entity
    ON pipeline_events(entity_type, entity_id);

-- Daemon heartbeats: process liveness probes for capture and replay.
CREATE TABLE IF NOT EXISTS daemon_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    daemon TEXT NOT NULL,
    hostname TEXT NOT NULL,
    pid INTEGER NOT NULL,
    beat_at INTEGER NOT NULL,
    goroutines INTEGER,
    heap_alloc_mb REAL,
    heap_sys_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_daemon_time
    ON daemon_heartbeats(daemon, beat_at DESC);

-- Metric timeseries.
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

-- Replay runs: one row per rule execution.
CREATE TABLE IF NOT EXISTS replay_runs (
    run_id      TEXT PRIMARY KEY,
    rule_id     TEXT NOT NULL,
    status      TEXT NOT NULL,
    note        TEXT,
    error       TEXT,
    failed_step INTEGER,
    steps_run   INTEGER NOT NULL DEFAULT 0,
    opened_tabs INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replay_runs_rule_time
    ON replay_runs(rule_id, started_at DESC);
`

// Init applies the observability schema.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
