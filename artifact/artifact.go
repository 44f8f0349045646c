// Package artifact implements chunked artifact upload: reassembly of
// numbered chunks into a complete binary blob and exactly-once
// finalization once both the chunk stream and the completion metadata
// have arrived.
package artifact

import "context"

// Artifact is a finalized binary blob (e.g. a screen recording).
// Immutable once created.
type Artifact struct {
	ID            string `json:"id"`
	Payload       []byte `json:"-"`
	MIME          string `json:"mime"`
	DurationMS    int64  `json:"duration_ms"`
	CompletedAtMS int64  `json:"completed_at_ms"`
}

// Window returns the artifact's recording span
// [completedAt-duration, completedAt] expanded by grace on both ends.
// A missing duration falls back to fallbackMS.
func (a *Artifact) Window(graceMS, fallbackMS int64) (startMS, endMS int64) {
	dur := a.DurationMS
	if dur <= 0 {
		dur = fallbackMS
	}
	return a.CompletedAtMS - dur - graceMS, a.CompletedAtMS + graceMS
}

// Metadata is the completion record the producer sends when recording
// stops. It can arrive before or after the last chunk.
type Metadata struct {
	DurationMS    int64  `json:"duration_ms"`
	MIME          string `json:"mime"`
	CompletedAtMS int64  `json:"completed_at_ms"`
}

// Sink receives finalized artifacts. Implementations: SQLite store,
// in-memory store, or a remote artifact service.
type Sink interface {
	Put(ctx context.Context, art Artifact) error
}
