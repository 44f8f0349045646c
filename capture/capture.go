// Package capture implements the ingestion side of the pipeline: it
// accepts raw interaction events from browser capture sources, drops
// duplicate and stale captures, maintains the per-source session
// registry, and flushes accepted events to sinks on a periodic timer.
//
// Capture sources fire and forget. Ingest never blocks the caller and
// never returns an error: rejections are deliberate, silent drops
// reported only via logs.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oselotti/capreplay/capture/internal/sink"
	"github.com/oselotti/capreplay/idgen"
	"github.com/oselotti/capreplay/trail"
)

// Coordinator owns the per-source dedup and coherence tables, the open
// session registry, and the flush queue. Create one per browser
// instance; no external writer may mutate its tables directly.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	newID  idgen.Generator

	mu            sync.Mutex
	dedup         *Deduper
	cohere        *Coherence
	sessions      map[string]*trail.Session // open sessions by ID
	queue         []trail.Event             // accepted, not yet flushed
	overflowDrops uint64                    // accepted events lost to the queue cap

	sinkR  *sink.Router
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator delivering to the given sinks.
func New(cfg Config, logger *slog.Logger, sinks ...Sink) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		newID:    idgen.Prefixed("batch_", idgen.Default),
		dedup:    NewDeduper(),
		cohere:   NewCoherence(),
		sessions: make(map[string]*trail.Session),
		sinkR:    sink.NewRouter(logger, sinks...),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.flushLoop(ctx)
}

// Stop drains the queue best-effort and closes the sinks.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	// Final drain: in-flight events still reach the sinks before
	// state is torn down.
	c.flush(context.Background())
	c.sinkR.Close()
}

// Ingest accepts one raw event. It deduplicates by fingerprint within
// the per-source window, applies the session coherence filter, records
// the event in its open session, and queues it for the next flush.
// The returned flag is informational; rejected events are not errors.
func (c *Coordinator) Ingest(ev trail.Event) (accepted bool) {
	now := time.Now()
	if ev.TimestampMS == 0 {
		ev.TimestampMS = now.UnixMilli()
	}
	if ev.Fingerprint == "" {
		ev.Fingerprint = trail.ComputeFingerprint(ev)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dedup.ShouldAccept(ev.SourceID, ev.Fingerprint, now) {
		c.logger.Debug("capture: duplicate dropped",
			"source", ev.SourceID, "fingerprint", ev.Fingerprint)
		return false
	}

	if !c.cohere.Admit(ev.SourceID, ev.SessionID, ev.URL) {
		c.logger.Debug("capture: stale instance dropped",
			"source", ev.SourceID, "session", ev.SessionID, "url", ev.URL)
		return false
	}

	sess, ok := c.sessions[ev.SessionID]
	if !ok {
		sess = &trail.Session{ID: ev.SessionID}
		c.sessions[ev.SessionID] = sess
	}
	sess.Append(ev)

	if len(c.queue) >= c.cfg.MaxQueue {
		// The queue is bounded; over the cap we drop the oldest rather
		// than block the emitting source. Losses are counted so they
		// show up in metrics, not just logs.
		c.overflowDrops++
		c.logger.Warn("capture: queue full, dropping oldest",
			"max", c.cfg.MaxQueue, "dropped_total", c.overflowDrops)
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, ev)
	return true
}

// Stats is a snapshot of the coordinator's queue health.
type Stats struct {
	QueueLen      int
	OpenSessions  int
	OverflowDrops uint64
}

// Stats returns current queue depth, open session count, and the total
// number of accepted events lost to the queue cap.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		QueueLen:      len(c.queue),
		OpenSessions:  len(c.sessions),
		OverflowDrops: c.overflowDrops,
	}
}

// OpenSessions returns a snapshot of the open session registry, without
// event payloads. Used by the correlator.
func (c *Coordinator) OpenSessions() []trail.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]trail.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, trail.Session{
			ID:          s.ID,
			StartMS:     s.StartMS,
			LastEventMS: s.LastEventMS,
			ArtifactID:  s.ArtifactID,
		})
	}
	return out
}

// Session returns a copy of one open session including its events, or
// nil if unknown.
func (c *Coordinator) Session(id string) *trail.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	cp.Events = append([]trail.Event(nil), s.Events...)
	return &cp
}

// LinkArtifact records the artifact matched to an open session. Unknown
// session IDs are ignored: the session may already have been sealed.
func (c *Coordinator) LinkArtifact(sessionID, artifactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.ArtifactID = artifactID
	}
}

// SealSession removes a session from the open registry and returns it.
// Sealed sessions no longer participate in correlation.
func (c *Coordinator) SealSession(id string) *trail.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil
	}
	delete(c.sessions, id)
	return s
}

// RemoveSource drops all dedup and coherence state for a closed capture
// source (tab closed, context destroyed).
func (c *Coordinator) RemoveSource(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedup.RemoveSource(sourceID)
	c.cohere.RemoveSource(sourceID)
}

func (c *Coordinator) flushLoop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

// flush drains the queue into one batch. On sink failure the events are
// put back so the next tick retries them: queued items are never
// dropped by a failed flush, only delayed.
func (c *Coordinator) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	events := c.queue
	c.queue = nil
	c.mu.Unlock()

	batch := trail.Batch{
		ID:        c.newID(),
		Events:    events,
		FlushedMS: time.Now().UnixMilli(),
	}

	if err := c.sinkR.Send(ctx, batch); err != nil {
		c.logger.Warn("capture: flush failed, retrying next tick",
			"events", len(events), "error", err)
		c.mu.Lock()
		c.queue = append(events, c.queue...)
		c.mu.Unlock()
	}
}
