package sink

import (
	"context"

	"github.com/oselotti/capreplay/trail"
)

// BatchFunc is called for each batch (in-process, zero serialisation).
type BatchFunc func(ctx context.Context, batch trail.Batch) error

// Callback delivers batches via Go function calls. This is the local
// path — when the event store and the capture coordinator live in the
// same binary, batches are delivered as in-memory function calls with
// zero serialisation overhead.
type Callback struct {
	onBatch BatchFunc
}

// NewCallback creates a Callback sink. The handler may be nil.
func NewCallback(onBatch BatchFunc) *Callback {
	return &Callback{onBatch: onBatch}
}

func (c *Callback) Send(ctx context.Context, batch trail.Batch) error {
	if c.onBatch != nil {
		return c.onBatch(ctx, batch)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
