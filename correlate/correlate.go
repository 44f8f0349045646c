// Package correlate links finalized artifacts to the capture sessions
// they belong to. Sessions and recordings are produced by independent
// observers with clock skew and no shared identifier, so linking is a
// best-effort temporal-overlap match, never an exact key join.
package correlate

import (
	"log/slog"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/trail"
)

// Config tunes the matcher.
type Config struct {
	// GraceMS expands both windows on both ends. Default: 1500.
	GraceMS int64
	// MinOverlapMS is the link threshold. Below it the artifact stays
	// orphaned rather than guessing. Default: 500.
	MinOverlapMS int64
	// FallbackDurationMS substitutes a missing artifact duration.
	// Default: 8000. Heuristic carried from the original recorder:
	// conflicting or absent duration metadata is assumed to mean a
	// short recording.
	FallbackDurationMS int64
}

func (c *Config) applyDefaults() {
	if c.GraceMS <= 0 {
		c.GraceMS = 1500
	}
	if c.MinOverlapMS <= 0 {
		c.MinOverlapMS = 500
	}
	if c.FallbackDurationMS <= 0 {
		c.FallbackDurationMS = 8000
	}
}

// Correlator matches artifacts against open sessions.
type Correlator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Correlator.
func New(cfg Config, logger *slog.Logger) *Correlator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{cfg: cfg, logger: logger}
}

// Match returns the session with the largest temporal overlap with the
// artifact's recording window, and the overlap in milliseconds. Returns
// ("", 0) when no session clears the threshold.
func (c *Correlator) Match(art artifact.Artifact, open []trail.Session) (sessionID string, overlapMS int64) {
	artStart, artEnd := art.Window(c.cfg.GraceMS, c.cfg.FallbackDurationMS)

	var best int64
	var bestID string
	for _, sess := range open {
		sessStart, sessEnd := sess.Window(c.cfg.GraceMS)
		ov := overlap(artStart, artEnd, sessStart, sessEnd)
		if ov > best {
			best = ov
			bestID = sess.ID
		}
	}

	if best < c.cfg.MinOverlapMS {
		c.logger.Info("correlate: artifact left unlinked",
			"artifact", art.ID, "best_overlap_ms", best, "threshold_ms", c.cfg.MinOverlapMS)
		return "", 0
	}

	c.logger.Info("correlate: artifact linked",
		"artifact", art.ID, "session", bestID, "overlap_ms", best)
	return bestID, best
}

// overlap computes min(ends)-max(starts) clamped to >= 0.
func overlap(aStart, aEnd, bStart, bEnd int64) int64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
