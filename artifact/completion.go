package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// completionState tracks the two independent completion signals for one
// artifact: chunk acknowledgements and producer metadata.
type completionState struct {
	expectedTotal int
	acked         map[int]struct{}
	meta          *Metadata
	finalizing    bool
}

func (st *completionState) ready() bool {
	return st.meta != nil &&
		st.expectedTotal > 0 &&
		len(st.acked) == st.expectedTotal
}

// CompletionOption configures a Completion coordinator.
type CompletionOption func(*Completion)

// WithBackoff overrides the finalize retry schedule. Attempt n sleeps
// base + n*step, capped at cap, for at most maxRetries retries.
func WithBackoff(base, step, cap time.Duration, maxRetries int) CompletionOption {
	return func(c *Completion) {
		c.backoffBase = base
		c.backoffStep = step
		c.backoffCap = cap
		c.maxRetries = maxRetries
	}
}

// WithCompletionLogger sets a custom logger.
func WithCompletionLogger(l *slog.Logger) CompletionOption {
	return func(c *Completion) { c.logger = l }
}

// OnFinalized registers a hook invoked after an artifact is accepted by
// the sink. The correlator hangs off this.
func OnFinalized(fn func(Artifact)) CompletionOption {
	return func(c *Completion) { c.onFinalized = fn }
}

// OnFailed registers a hook invoked when finalize gives up. The error
// wraps ErrCompletionRejected.
func OnFailed(fn func(artifactID string, err error)) CompletionOption {
	return func(c *Completion) { c.onFailed = fn }
}

// Completion coordinates the finalize step. It waits for both "all
// chunks acknowledged" and "completion metadata received" — which race
// each other and can arrive in either order — then finalizes exactly
// once, retrying transient sink failures with capped backoff before
// giving up and discarding the artifact.
type Completion struct {
	re     *Reassembler
	sink   Sink
	logger *slog.Logger

	backoffBase time.Duration
	backoffStep time.Duration
	backoffCap  time.Duration
	maxRetries  int

	onFinalized func(Artifact)
	onFailed    func(artifactID string, err error)

	mu     sync.Mutex
	states map[string]*completionState
	wg     sync.WaitGroup
}

// NewCompletion creates a Completion coordinator delivering finalized
// artifacts to sink.
func NewCompletion(re *Reassembler, sink Sink, opts ...CompletionOption) *Completion {
	c := &Completion{
		re:          re,
		sink:        sink,
		logger:      slog.Default(),
		backoffBase: 300 * time.Millisecond,
		backoffStep: 300 * time.Millisecond,
		backoffCap:  2 * time.Second,
		maxRetries:  3,
		states:      make(map[string]*completionState),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AckChunk records that chunk index of total was stored. Call after a
// successful Reassembler.PutChunk. Triggers finalize when this was the
// last missing signal.
func (c *Completion) AckChunk(artifactID string, index, total int) {
	c.mu.Lock()
	st := c.state(artifactID)
	st.expectedTotal = total
	st.acked[index] = struct{}{}
	c.maybeFinalizeLocked(artifactID, st)
	c.mu.Unlock()
}

// SetMetadata records the producer's completion record. Triggers
// finalize when all chunks were already acknowledged.
func (c *Completion) SetMetadata(artifactID string, meta Metadata) {
	c.mu.Lock()
	st := c.state(artifactID)
	st.meta = &meta
	c.maybeFinalizeLocked(artifactID, st)
	c.mu.Unlock()
}

// Pending reports whether completion state exists for an artifact.
func (c *Completion) Pending(artifactID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[artifactID]
	return ok
}

// Wait blocks until in-flight finalize attempts have settled. Intended
// for shutdown and tests.
func (c *Completion) Wait() {
	c.wg.Wait()
}

func (c *Completion) state(artifactID string) *completionState {
	st, ok := c.states[artifactID]
	if !ok {
		st = &completionState{acked: make(map[int]struct{})}
		c.states[artifactID] = st
	}
	return st
}

// maybeFinalizeLocked starts the finalize attempt when both signals are
// present. The finalizing flag makes re-entrant calls (either arrival
// order, repeated acks) idempotent.
func (c *Completion) maybeFinalizeLocked(artifactID string, st *completionState) {
	if st.finalizing || !st.ready() {
		return
	}
	st.finalizing = true
	meta := *st.meta

	c.wg.Add(1)
	go c.finalize(artifactID, meta)
}

// finalize assembles the artifact and offers it to the sink, retrying
// with capped backoff. The remote store may still be assembling previous
// data — that is a transient condition, not a permanent one, but retries
// are bounded so abandoned artifacts cannot grow memory without limit.
func (c *Completion) finalize(artifactID string, meta Metadata) {
	defer c.wg.Done()

	payload, bufMIME, err := c.re.Assemble(artifactID)
	if err != nil {
		c.logger.Error("completion: assemble failed", "artifact", artifactID, "error", err)
		c.discard(artifactID)
		return
	}

	mime := meta.MIME
	if mime == "" {
		mime = bufMIME
	}
	completedAt := meta.CompletedAtMS
	if completedAt == 0 {
		completedAt = time.Now().UnixMilli()
	}

	art := Artifact{
		ID:            artifactID,
		Payload:       payload,
		MIME:          mime,
		DurationMS:    meta.DurationMS,
		CompletedAtMS: completedAt,
	}

	ctx := context.Background()
	for attempt := 0; ; attempt++ {
		err = c.sink.Put(ctx, art)
		if err == nil {
			c.discard(artifactID)
			c.logger.Info("completion: artifact finalized",
				"artifact", artifactID, "bytes", len(payload), "mime", mime)
			if c.onFinalized != nil {
				c.onFinalized(art)
			}
			return
		}
		if attempt >= c.maxRetries {
			break
		}
		backoff := c.backoffBase + time.Duration(attempt)*c.backoffStep
		if backoff > c.backoffCap {
			backoff = c.backoffCap
		}
		c.logger.Warn("completion: finalize attempt failed, backing off",
			"artifact", artifactID, "attempt", attempt+1, "backoff", backoff, "error", err)
		time.Sleep(backoff)
	}

	// Terminal: give up and discard so future captures are never blocked.
	c.discard(artifactID)
	c.logger.Error("completion: finalize abandoned after retries",
		"artifact", artifactID, "retries", c.maxRetries, "error", err)
	if c.onFailed != nil {
		c.onFailed(artifactID, fmt.Errorf("%w: %v", ErrCompletionRejected, err))
	}
}

func (c *Completion) discard(artifactID string) {
	c.mu.Lock()
	delete(c.states, artifactID)
	c.mu.Unlock()
}
