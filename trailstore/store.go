// Package trailstore provides the SQLite persistence layer for captured
// sessions and their event trails.
package trailstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oselotti/capreplay/dbopen"
	"github.com/oselotti/capreplay/idgen"
	"github.com/oselotti/capreplay/trail"
)

// Schema is the trail database DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id             TEXT PRIMARY KEY,
    start_ms       INTEGER NOT NULL,
    last_event_ms  INTEGER NOT NULL,
    artifact_id    TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    source_id     TEXT NOT NULL,
    kind          TEXT NOT NULL,
    timestamp_ms  INTEGER NOT NULL,
    url           TEXT NOT NULL,
    role          TEXT,
    name          TEXT,
    selector      TEXT,
    value         TEXT,
    redacted      INTEGER NOT NULL DEFAULT 0,
    fingerprint   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, timestamp_ms);
`

// Store is the trail database handle.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the trail SQLite database at path, applies the
// pipeline pragmas and the trail schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-opened database (the schema must be applied).
func New(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("evt_", idgen.Default)}
}

// DB returns the underlying handle for sharing with the observability layer.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AppendEvents persists a slice of accepted events, creating or
// advancing their session rows in the same transaction.
func (s *Store) AppendEvents(ctx context.Context, events []trail.Event) error {
	if len(events) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, ev := range events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sessions (id, start_ms, last_event_ms) VALUES (?,?,?)
				ON CONFLICT(id) DO UPDATE SET
					start_ms      = MIN(start_ms, excluded.start_ms),
					last_event_ms = MAX(last_event_ms, excluded.last_event_ms)`,
				ev.SessionID, ev.TimestampMS, ev.TimestampMS); err != nil {
				return fmt.Errorf("trailstore: upsert session: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (id, session_id, source_id, kind, timestamp_ms,
					url, role, name, selector, value, redacted, fingerprint)
				VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
				s.newID(), ev.SessionID, ev.SourceID, string(ev.Kind), ev.TimestampMS,
				ev.URL, ev.Target.Role, ev.Target.Name, ev.Target.Selector,
				ev.Value, boolToInt(ev.Redacted), ev.Fingerprint); err != nil {
				return fmt.Errorf("trailstore: insert event: %w", err)
			}
		}
		return nil
	})
}

// Session loads one session with its events in chronological order.
// Returns nil if the session does not exist.
func (s *Store) Session(ctx context.Context, id string) (*trail.Session, error) {
	sess := &trail.Session{ID: id}
	var artifactID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT start_ms, last_event_ms, artifact_id FROM sessions WHERE id = ?`, id).
		Scan(&sess.StartMS, &sess.LastEventMS, &artifactID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trailstore: load session: %w", err)
	}
	sess.ArtifactID = artifactID.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, kind, timestamp_ms, url, role, name, selector,
			value, redacted, fingerprint
		FROM events WHERE session_id = ? ORDER BY timestamp_ms, id`, id)
	if err != nil {
		return nil, fmt.Errorf("trailstore: load events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev trail.Event
		var kind string
		var redacted int
		if err := rows.Scan(&ev.SourceID, &kind, &ev.TimestampMS, &ev.URL,
			&ev.Target.Role, &ev.Target.Name, &ev.Target.Selector,
			&ev.Value, &redacted, &ev.Fingerprint); err != nil {
			return nil, fmt.Errorf("trailstore: scan event: %w", err)
		}
		ev.Kind = trail.Kind(kind)
		ev.Redacted = redacted != 0
		ev.SessionID = id
		sess.Events = append(sess.Events, ev)
	}
	return sess, rows.Err()
}

// ListSessions returns all sessions (without events), newest first.
func (s *Store) ListSessions(ctx context.Context) ([]trail.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_ms, last_event_ms, artifact_id FROM sessions ORDER BY start_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("trailstore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []trail.Session
	for rows.Next() {
		var sess trail.Session
		var artifactID sql.NullString
		if err := rows.Scan(&sess.ID, &sess.StartMS, &sess.LastEventMS, &artifactID); err != nil {
			return nil, fmt.Errorf("trailstore: scan session: %w", err)
		}
		sess.ArtifactID = artifactID.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LinkArtifact records the artifact the correlator matched to a session.
func (s *Store) LinkArtifact(ctx context.Context, sessionID, artifactID string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE sessions SET artifact_id = ? WHERE id = ?`, artifactID, sessionID)
	if err != nil {
		return fmt.Errorf("trailstore: link artifact: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
