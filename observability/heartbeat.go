package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"database/sql"
)

// The pipeline runs as two long-lived daemons; heartbeats are keyed by
// these names so staleness checks know what to look for.
const (
	DaemonCapture = "capture"
	DaemonReplay  = "replay"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	Goroutines  int
	HeapAllocMB float64
	HeapSysMB   float64
	GCCount     uint32
}

// CollectRuntimeMetrics reads current Go runtime stats (~10µs overhead).
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.Alloc) / 1024 / 1024,
		HeapSysMB:   float64(mem.Sys) / 1024 / 1024,
		GCCount:     mem.NumGC,
	}
}

// HeartbeatWriter writes periodic liveness probes for one daemon to the
// daemon_heartbeats table.
type HeartbeatWriter struct {
	db       *sql.DB
	daemon   string
	hostname string
	pid      int
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeatWriter creates a writer for the named daemon (use the
// Daemon* constants). Recommended interval: 15-30s.
func NewHeartbeatWriter(db *sql.DB, daemon string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:       db,
		daemon:   daemon,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the heartbeat goroutine. It writes one heartbeat
// immediately, then repeats at the configured interval until Stop or
// context cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// WriteHeartbeat writes a single heartbeat row with current runtime metrics.
func (hw *HeartbeatWriter) WriteHeartbeat() error {
	m := CollectRuntimeMetrics()
	_, err := hw.db.Exec(`
		INSERT INTO daemon_heartbeats (
			daemon, hostname, pid, beat_at,
			goroutines, heap_alloc_mb, heap_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.daemon, hw.hostname, hw.pid, time.Now().Unix(),
		m.Goroutines, m.HeapAllocMB, m.HeapSysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// Stop signals the heartbeat goroutine to exit and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	// Immediate first heartbeat.
	if err := hw.WriteHeartbeat(); err != nil {
		hw.logger.Error("heartbeat write failed", "error", err, "daemon", hw.daemon)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			if err := hw.WriteHeartbeat(); err != nil {
				hw.logger.Error("heartbeat write failed", "error", err, "daemon", hw.daemon)
			}
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a daemon, enriched with a
// staleness check so callers don't have to compute it themselves.
type HeartbeatStatus struct {
	Daemon      string         `json:"daemon"`
	Hostname    string         `json:"hostname"`
	PID         int            `json:"pid"`
	BeatAt      time.Time      `json:"beat_at"`
	Goroutines  int            `json:"goroutines"`
	HeapAllocMB float64        `json:"heap_alloc_mb"`
	HeapSysMB   float64        `json:"heap_sys_mb"`
	GCCount     int            `json:"gc_count"`
	Alive       bool           `json:"alive"`                 // last beat within the staleness threshold
	StaleSince  *time.Duration `json:"stale_since,omitempty"` // how long past the threshold
}

// LatestHeartbeat returns the most recent heartbeat for the given daemon.
// stalenessThreshold controls the alive/stale boundary (typically 3× the
// heartbeat interval). Returns nil, nil if no heartbeat has been recorded yet.
func LatestHeartbeat(ctx context.Context, db *sql.DB, daemon string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT daemon, hostname, pid, beat_at,
		       goroutines, heap_alloc_mb, heap_sys_mb, gc_count
		FROM daemon_heartbeats
		WHERE daemon = ?
		ORDER BY beat_at DESC LIMIT 1`, daemon)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.Daemon, &hs.Hostname, &hs.PID, &ts,
		&hs.Goroutines, &hs.HeapAllocMB, &hs.HeapSysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.BeatAt = time.Unix(ts, 0)
	age := time.Since(hs.BeatAt)
	if age <= stalenessThreshold {
		hs.Alive = true
	} else {
		stale := age - stalenessThreshold
		hs.StaleSince = &stale
	}
	return &hs, nil
}

// FleetStatus returns the latest status for both pipeline daemons.
// Daemons that never wrote a heartbeat are omitted.
func FleetStatus(ctx context.Context, db *sql.DB, stalenessThreshold time.Duration) ([]HeartbeatStatus, error) {
	var out []HeartbeatStatus
	for _, d := range []string{DaemonCapture, DaemonReplay} {
		hs, err := LatestHeartbeat(ctx, db, d, stalenessThreshold)
		if err != nil {
			return nil, err
		}
		if hs != nil {
			out = append(out, *hs)
		}
	}
	return out, nil
}

// CleanupHeartbeats deletes heartbeats older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := db.ExecContext(ctx, "DELETE FROM daemon_heartbeats WHERE beat_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup heartbeats: %w", err)
	}
	return result.RowsAffected()
}
