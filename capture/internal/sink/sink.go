// Package sink defines output backends for captured event batches.
package sink

import (
	"context"

	"github.com/oselotti/capreplay/trail"
)

// Sink is the output interface. Implementations deliver event batches to
// different backends (stdout, webhook, SQLite, in-process callback).
type Sink interface {
	Send(ctx context.Context, batch trail.Batch) error
	Close() error
}
