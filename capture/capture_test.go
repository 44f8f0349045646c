package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oselotti/capreplay/trail"
)

// collectSink gathers flushed batches for inspection.
type collectSink struct {
	mu      sync.Mutex
	batches []trail.Batch
	fail    bool
}

func (s *collectSink) Send(_ context.Context, batch trail.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return context.DeadlineExceeded
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *collectSink) Close() error { return nil }

func (s *collectSink) events() []trail.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []trail.Event
	for _, b := range s.batches {
		out = append(out, b.Events...)
	}
	return out
}

func newTestCoordinator(sinks ...Sink) *Coordinator {
	return New(Config{FlushInterval: 10 * time.Millisecond, MaxQueue: 100}, nil, sinks...)
}

func ev(source, session, url, selector string) trail.Event {
	return trail.Event{
		Kind:      trail.KindClick,
		SourceID:  source,
		SessionID: session,
		URL:       url,
		Target:    trail.Target{Selector: selector},
	}
}

func TestCoordinator_IngestAndFlush(t *testing.T) {
	// WHAT: Accepted events reach the sink on the next flush tick.
	sink := &collectSink{}
	c := newTestCoordinator(sink)
	c.Start(context.Background())

	if !c.Ingest(ev("tab1", "sess_a", "https://example.com", "#a")) {
		t.Fatal("event should be accepted")
	}

	deadline := time.Now().Add(time.Second)
	for len(sink.events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if got := sink.events(); len(got) != 1 || got[0].Target.Selector != "#a" {
		t.Fatalf("flushed events = %+v", got)
	}
}

func TestCoordinator_DuplicateDropped(t *testing.T) {
	// WHAT: Two identical events arriving back-to-back yield one accept.
	sink := &collectSink{}
	c := newTestCoordinator(sink)

	e := ev("tab1", "sess_a", "https://example.com", "#a")
	first := c.Ingest(e)
	second := c.Ingest(e)
	if !first || second {
		t.Fatalf("accepts = (%v,%v), want (true,false)", first, second)
	}
}

func TestCoordinator_StaleSessionDropped(t *testing.T) {
	sink := &collectSink{}
	c := newTestCoordinator(sink)

	c.Ingest(ev("tab1", "sess_a", "https://example.com", "#a"))
	if c.Ingest(ev("tab1", "sess_b", "https://example.com", "#b")) {
		t.Fatal("stale-instance event should be dropped")
	}
}

func TestCoordinator_FailedFlushRetriesNextTick(t *testing.T) {
	// WHAT: A failed flush keeps the events queued; they are delivered on
	// a later tick once the sink recovers.
	// WHY: Queued items are never dropped by transient sink failures,
	// only delayed.
	sink := &collectSink{fail: true}
	c := newTestCoordinator(sink)
	c.Start(context.Background())
	defer c.Stop()

	c.Ingest(ev("tab1", "sess_a", "https://example.com", "#a"))
	time.Sleep(50 * time.Millisecond) // a few failing ticks

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for len(sink.events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event lost after transient sink failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCoordinator_SessionRegistry(t *testing.T) {
	sink := &collectSink{}
	c := newTestCoordinator(sink)

	c.Ingest(ev("tab1", "sess_a", "https://example.com", "#a"))
	c.Ingest(ev("tab2", "sess_b", "https://example.org", "#b"))

	open := c.OpenSessions()
	if len(open) != 2 {
		t.Fatalf("open sessions = %d, want 2", len(open))
	}

	s := c.Session("sess_a")
	if s == nil || len(s.Events) != 1 {
		t.Fatalf("Session(sess_a) = %+v", s)
	}

	c.LinkArtifact("sess_a", "art_1")
	if got := c.Session("sess_a").ArtifactID; got != "art_1" {
		t.Fatalf("ArtifactID = %q, want art_1", got)
	}

	sealed := c.SealSession("sess_a")
	if sealed == nil || c.Session("sess_a") != nil {
		t.Fatal("sealed session must leave the registry")
	}
}

func TestCoordinator_StopDrainsQueue(t *testing.T) {
	// WHAT: Stop flushes in-flight events before tearing state down.
	sink := &collectSink{}
	c := newTestCoordinator(sink)
	c.Start(context.Background())

	c.Ingest(ev("tab1", "sess_a", "https://example.com", "#a"))
	c.Stop()

	if len(sink.events()) != 1 {
		t.Fatalf("events after Stop = %d, want 1", len(sink.events()))
	}
}

func TestCoordinator_OverflowCounted(t *testing.T) {
	// WHAT: Past the queue cap the oldest events are evicted to make
	// room, and every eviction shows up in Stats.
	sink := &collectSink{}
	c := New(Config{FlushInterval: time.Hour, MaxQueue: 3}, nil, sink)

	selectors := []string{"#a", "#b", "#c", "#d", "#e"}
	for _, sel := range selectors {
		if !c.Ingest(ev("tab1", "sess_a", "https://example.com", sel)) {
			t.Fatalf("event %s should be accepted", sel)
		}
	}

	st := c.Stats()
	if st.QueueLen != 3 {
		t.Fatalf("queue length = %d, want 3", st.QueueLen)
	}
	if st.OverflowDrops != 2 {
		t.Fatalf("overflow drops = %d, want 2", st.OverflowDrops)
	}
	if st.OpenSessions != 1 {
		t.Fatalf("open sessions = %d, want 1", st.OpenSessions)
	}
}
