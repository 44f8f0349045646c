package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/oselotti/capreplay/dbopen"
)

// StoreSchema is the artifact database DDL.
const StoreSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id               TEXT PRIMARY KEY,
    payload          BLOB NOT NULL,
    mime             TEXT NOT NULL,
    duration_ms      INTEGER NOT NULL,
    completed_at_ms  INTEGER NOT NULL
);
`

// Store persists finalized artifacts in SQLite. It implements Sink.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the artifact database at path.
func OpenStore(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(StoreSchema),
	}, opts...)
	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-opened database (schema must be applied).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores a finalized artifact. Re-putting the same ID overwrites —
// the finalize path is exactly-once logically, but a retried finalize
// that half-succeeded must stay idempotent.
func (s *Store) Put(ctx context.Context, art Artifact) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO artifacts (id, payload, mime, duration_ms, completed_at_ms)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload, mime = excluded.mime,
			duration_ms = excluded.duration_ms, completed_at_ms = excluded.completed_at_ms`,
		art.ID, art.Payload, art.MIME, art.DurationMS, art.CompletedAtMS)
	if err != nil {
		return fmt.Errorf("artifact: store put: %w", err)
	}
	return nil
}

// Get loads one artifact, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	art := Artifact{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, mime, duration_ms, completed_at_ms FROM artifacts WHERE id = ?`, id).
		Scan(&art.Payload, &art.MIME, &art.DurationMS, &art.CompletedAtMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: store get: %w", err)
	}
	return &art, nil
}

// MemorySink keeps finalized artifacts in a map. For tests and for
// fully in-process deployments.
type MemorySink struct {
	mu        sync.Mutex
	artifacts map[string]Artifact
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{artifacts: make(map[string]Artifact)}
}

func (m *MemorySink) Put(_ context.Context, art Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[art.ID] = art
	return nil
}

// Get returns a stored artifact, or nil.
func (m *MemorySink) Get(id string) *Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if art, ok := m.artifacts[id]; ok {
		return &art
	}
	return nil
}
