package shield

import "database/sql"

// Schema defines the SQLite tables used by shield middlewares:
//   - rate_limits: per-endpoint rate limiting rules (used by RateLimiter)
//   - ingest_gate: global write-pause flag (used by Gate)
//
// All statements are idempotent (CREATE IF NOT EXISTS).
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS ingest_gate (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    closed  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'ingestion paused for maintenance'
);

INSERT OR IGNORE INTO ingest_gate (id, closed, message)
VALUES (1, 0, 'ingestion paused for maintenance');
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
