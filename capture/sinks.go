package capture

import (
	"context"
	"io"
	"log/slog"

	"github.com/oselotti/capreplay/capture/internal/sink"
	"github.com/oselotti/capreplay/trail"
	"github.com/oselotti/capreplay/trailstore"
)

// Sink is the output interface for captured event batches.
type Sink = sink.Sink

// BatchFunc is called for each batch.
type BatchFunc = sink.BatchFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink — zero
// serialisation for same-binary consumers.
func NewCallbackSink(onBatch BatchFunc) Sink {
	return sink.NewCallback(onBatch)
}

// NewStoreSink persists flushed batches into the trail store.
func NewStoreSink(store *trailstore.Store) Sink {
	return sink.NewCallback(func(ctx context.Context, batch trail.Batch) error {
		return store.AppendEvents(ctx, batch.Events)
	})
}
