package watch

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ruleDB builds the minimal rules table the live reload path watches.
func ruleDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// Single connection so writes are immediately visible to the detector.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE rules (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, created_at_ms INTEGER NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func saveRule(t *testing.T, db *sql.DB, id string, ts int64) {
	t.Helper()
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO rules (id, name, created_at_ms) VALUES (?, ?, ?)",
		id, "rule "+id, ts); err != nil {
		t.Fatal(err)
	}
}

// ruleDetector is how the replay daemon watches for new rules: the
// newest created_at_ms doubles as the version token.
func ruleDetector() ChangeDetector {
	return MaxColumnDetector("rules", "created_at_ms")
}

func TestPragmaDataVersion(t *testing.T) {
	db := ruleDB(t)

	v, err := PragmaDataVersion(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if v < 0 {
		t.Fatalf("expected non-negative version, got %d", v)
	}
}

func TestPragmaUserVersion(t *testing.T) {
	db := ruleDB(t)
	ctx := context.Background()

	v, err := PragmaUserVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}

	if _, err := db.Exec("PRAGMA user_version = 42"); err != nil {
		t.Fatal(err)
	}
	v, err = PragmaUserVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestMaxColumnDetector(t *testing.T) {
	db := ruleDB(t)
	ctx := context.Background()

	det := ruleDetector()
	v, err := det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected 0 for empty table, got %d", v)
	}

	saveRule(t, db, "rule_1", 100)
	v, err = det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 100 {
		t.Fatalf("expected 100, got %d", v)
	}
}

func TestOnChange_ReloadsOnNewRule(t *testing.T) {
	db := ruleDB(t)

	// The action stands in for a rule cache reload: it re-counts the
	// table so we can assert the reload saw the new row.
	var reloads atomic.Int32
	var lastCount atomic.Int64
	reload := func() error {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM rules").Scan(&n); err != nil {
			return err
		}
		lastCount.Store(n)
		reloads.Add(1)
		return nil
	}

	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: ruleDetector()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, reload)

	time.Sleep(50 * time.Millisecond) // let the initial version seed

	saveRule(t, db, "rule_1", 100)
	time.Sleep(80 * time.Millisecond)

	if got := reloads.Load(); got != 1 {
		t.Fatalf("expected 1 reload, got %d", got)
	}
	if got := lastCount.Load(); got != 1 {
		t.Fatalf("reload saw %d rules, want 1", got)
	}

	saveRule(t, db, "rule_2", 200)
	time.Sleep(80 * time.Millisecond)

	if got := reloads.Load(); got != 2 {
		t.Fatalf("expected 2 reloads, got %d", got)
	}
	if got := lastCount.Load(); got != 2 {
		t.Fatalf("reload saw %d rules, want 2", got)
	}

	// Quiet database, no extra reloads.
	time.Sleep(80 * time.Millisecond)
	if got := reloads.Load(); got != 2 {
		t.Fatalf("expected still 2, got %d", got)
	}
}

func TestOnChange_DebounceCollapsesBurst(t *testing.T) {
	db := ruleDB(t)

	var reloads atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 100 * time.Millisecond,
		Detector: ruleDetector(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	// A derivation burst writes several rules in quick succession; the
	// cache should reload once, after the writes settle.
	for i := int64(1); i <= 5; i++ {
		saveRule(t, db, "rule_burst", i*10)
		time.Sleep(15 * time.Millisecond)
	}

	if got := reloads.Load(); got != 0 {
		t.Fatalf("expected 0 reloads during debounce, got %d", got)
	}

	time.Sleep(200 * time.Millisecond)

	if got := reloads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 debounced reload, got %d", got)
	}
}

func TestOnChange_FailedReloadRetried(t *testing.T) {
	db := ruleDB(t)

	var calls atomic.Int32
	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: ruleDetector()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return context.DeadlineExceeded // first reload fails
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	saveRule(t, db, "rule_1", 75)

	// Failed reload leaves the version behind, so the next poll retries.
	time.Sleep(120 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", got)
	}
	if v := w.Version(); v != 75 {
		t.Fatalf("expected version 75 after successful retry, got %d", v)
	}
}

func TestWaitForVersion(t *testing.T) {
	db := ruleDB(t)

	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: ruleDetector()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.OnChange(ctx, func() error { return nil })

	time.Sleep(50 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		db.Exec("INSERT INTO rules (id, name, created_at_ms) VALUES ('rule_x', 'x', 1000)")
	}()

	if err := w.WaitForVersion(ctx, 1000); err != nil {
		t.Fatalf("WaitForVersion: %v", err)
	}
	if v := w.Version(); v < 1000 {
		t.Fatalf("expected version >= 1000, got %d", v)
	}
}

func TestWaitForVersion_Timeout(t *testing.T) {
	db := ruleDB(t)

	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: ruleDetector()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { return nil })

	time.Sleep(50 * time.Millisecond)

	// Nothing ever writes created_at_ms >= 9999.
	waitCtx, waitCancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer waitCancel()

	if err := w.WaitForVersion(waitCtx, 9999); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStats(t *testing.T) {
	db := ruleDB(t)

	w := New(db, Options{Interval: 20 * time.Millisecond, Detector: ruleDetector()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error { return nil })
	time.Sleep(50 * time.Millisecond)

	saveRule(t, db, "rule_1", 60)
	time.Sleep(80 * time.Millisecond)

	s := w.Stats()
	if s.Checks == 0 {
		t.Fatal("expected checks > 0")
	}
	if s.ChangesDetected == 0 {
		t.Fatal("expected changes > 0")
	}
	if s.Reloads == 0 {
		t.Fatal("expected reloads > 0")
	}
}
