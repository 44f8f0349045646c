// Package shield provides reusable HTTP middleware for the capture
// pipeline API: security headers, JSON body limits, request logging,
// per-IP rate limiting, and an ingest gate for pausing writes during
// maintenance. Limits and the gate flag live in SQLite so operators can
// flip them without a restart.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxJSONBody(1 << 20))
//	r.Use(shield.RequestLogger(logger))
//	r.Use(shield.NewRateLimiter(db, "/healthz").Middleware)
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context. Returns
// slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Stack returns the standard middleware stack for the pipeline API,
// ordered: gate, security headers, body limit, request logger, rate
// limiter. The returned handles allow callers to start the background
// reloaders. Health checks (/healthz) bypass the gate and limiter.
func Stack(db *sql.DB, logger *slog.Logger) ([]func(http.Handler) http.Handler, *Gate, *RateLimiter) {
	g := NewGate(db, "/healthz")
	rl := NewRateLimiter(db, "/healthz")
	return []func(http.Handler) http.Handler{
		g.Middleware,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(4 << 20),
		RequestLogger(logger),
		rl.Middleware,
	}, g, rl
}
