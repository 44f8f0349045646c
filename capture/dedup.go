package capture

import "time"

// dedupWindow is the time span within which two identical fingerprints
// from the same source are considered the same capture. Long enough to
// cover layered observers firing for one action, short enough that a real
// repeated action (double click on purpose) passes once it elapses.
const dedupWindow = 250 * time.Millisecond

type fingerprintEntry struct {
	fingerprint string
	at          time.Time
}

// Deduper rejects repeated captures of the same interaction within a
// short window, per source. Multiple observation layers in the same
// browsing context can emit the same logical action; dedup is
// time-windowed, not global.
type Deduper struct {
	window time.Duration
	recent map[string][]fingerprintEntry // keyed by source ID
}

// NewDeduper creates a Deduper with the default window.
func NewDeduper() *Deduper {
	return &Deduper{
		window: dedupWindow,
		recent: make(map[string][]fingerprintEntry),
	}
}

// ShouldAccept reports whether an event with the given fingerprint from
// the given source should pass. A duplicate inside the window is rejected
// and NOT re-recorded, so its presence never extends the window.
func (d *Deduper) ShouldAccept(sourceID, fingerprint string, now time.Time) bool {
	cutoff := now.Add(-d.window)

	entries := d.recent[sourceID]
	fresh := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			fresh = append(fresh, e)
		}
	}

	for _, e := range fresh {
		if e.fingerprint == fingerprint {
			d.recent[sourceID] = fresh
			return false
		}
	}

	d.recent[sourceID] = append(fresh, fingerprintEntry{fingerprint: fingerprint, at: now})
	return true
}

// RemoveSource drops all dedup state for a closed capture source.
func (d *Deduper) RemoveSource(sourceID string) {
	delete(d.recent, sourceID)
}
