package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oselotti/capreplay/dbopen"
)

// StoreSchema creates the rules table. Steps are stored as a JSON
// array; they are only ever read back whole.
const StoreSchema = `
CREATE TABLE IF NOT EXISTS rules (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    source_session_id TEXT NOT NULL DEFAULT '',
    steps             TEXT NOT NULL,
    created_at_ms     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_created ON rules(created_at_ms);
`

// Store persists rules in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the rule database at path and applies
// the schema.
func OpenStore(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(StoreSchema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("rule: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open database. The caller is responsible
// for having applied StoreSchema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database handle, e.g. for change watchers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a rule.
func (s *Store) Save(ctx context.Context, r *Rule) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("rule: encode steps: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO rules (id, name, source_session_id, steps, created_at_ms)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_session_id = excluded.source_session_id,
			steps = excluded.steps`,
		r.ID, r.Name, r.SourceSessionID, string(steps), r.CreatedAtMS,
	)
	if err != nil {
		return fmt.Errorf("rule: save %s: %w", r.ID, err)
	}
	return nil
}

// Get retrieves a rule by ID. Returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	r := &Rule{}
	var steps string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_session_id, steps, created_at_ms
		FROM rules WHERE id = ?`, id).Scan(
		&r.ID, &r.Name, &r.SourceSessionID, &steps, &r.CreatedAtMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rule: get %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
		return nil, fmt.Errorf("rule: decode steps for %s: %w", id, err)
	}
	return r, nil
}

// List returns all rules, newest first.
func (s *Store) List(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_session_id, steps, created_at_ms
		FROM rules ORDER BY created_at_ms DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("rule: list: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r := &Rule{}
		var steps string
		if err := rows.Scan(&r.ID, &r.Name, &r.SourceSessionID, &steps, &r.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("rule: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
			return nil, fmt.Errorf("rule: decode steps for %s: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Delete removes a rule. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("rule: delete %s: %w", id, err)
	}
	return nil
}
