package shield

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Gate pauses write traffic (POST, PUT, PATCH, DELETE) with a 503 JSON
// response while the flag in the ingest_gate table is set. Reads keep
// flowing so operators can inspect sessions and rules during
// maintenance. The flag is cached in memory and refreshed by
// StartReloader.
//
// Only one row (id=1) is expected. If the table is missing or empty the
// gate is open.
type Gate struct {
	db      *sql.DB
	closed  atomic.Bool
	message atomic.Value // string
	exclude []string     // path prefixes that bypass the gate
}

// NewGate creates a gate checker. Paths matching any of excludePrefixes
// are never blocked (health checks in particular).
func NewGate(db *sql.DB, excludePrefixes ...string) *Gate {
	g := &Gate{
		db:      db,
		exclude: excludePrefixes,
	}
	g.message.Store("ingestion paused for maintenance")
	g.reload()
	return g
}

// Closed reports whether the gate is currently blocking writes.
func (g *Gate) Closed() bool {
	return g.closed.Load()
}

// Message returns the current gate message.
func (g *Gate) Message() string {
	s, _ := g.message.Load().(string)
	return s
}

// StartReloader starts a background goroutine that reloads the gate
// flag every 5 seconds. Stops when done is closed.
func (g *Gate) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				g.reload()
			}
		}
	}()
}

func (g *Gate) reload() {
	var closed int
	var message string
	err := g.db.QueryRow(`SELECT closed, message FROM ingest_gate WHERE id = 1`).Scan(&closed, &message)
	if err != nil {
		// Table missing or empty means the gate is open (normal state).
		if g.closed.Load() {
			slog.Info("shield: gate cleared (table missing or empty)")
		}
		g.closed.Store(false)
		return
	}

	was := g.closed.Load()
	g.closed.Store(closed == 1)
	if message != "" {
		g.message.Store(message)
	}

	if closed == 1 && !was {
		slog.Warn("shield: ingest gate CLOSED", "message", message)
	} else if closed != 1 && was {
		slog.Info("shield: ingest gate opened")
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Middleware blocks write requests with a 503 JSON response while the
// gate is closed. Reads and excluded prefixes pass through.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.closed.Load() || !isWrite(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		for _, prefix := range g.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "300")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": g.Message(),
		})
	})
}
