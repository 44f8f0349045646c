package trailstore

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/oselotti/capreplay/dbopen"
	"github.com/oselotti/capreplay/trail"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db)
}

func TestAppendEvents_CreatesSession(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	events := []trail.Event{
		{Kind: trail.KindNavigate, SessionID: "sess_a", SourceID: "tab1",
			TimestampMS: 1000, URL: "https://example.com"},
		{Kind: trail.KindClick, SessionID: "sess_a", SourceID: "tab1",
			TimestampMS: 2000, URL: "https://example.com",
			Target: trail.Target{Role: "button", Name: "Send", Selector: "div > button"}},
	}
	if err := s.AppendEvents(ctx, events); err != nil {
		t.Fatalf("append: %v", err)
	}

	sess, err := s.Session(ctx, "sess_a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess == nil {
		t.Fatal("session not found")
	}
	if sess.StartMS != 1000 || sess.LastEventMS != 2000 {
		t.Errorf("window = [%d,%d], want [1000,2000]", sess.StartMS, sess.LastEventMS)
	}
	if len(sess.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(sess.Events))
	}
	if sess.Events[1].Target.Name != "Send" {
		t.Errorf("target name = %q, want Send", sess.Events[1].Target.Name)
	}
}

func TestAppendEvents_AdvancesWindowAcrossBatches(t *testing.T) {
	// WHAT: Session bounds are the min start and max last-event across
	// all appended batches.
	s := setupStore(t)
	ctx := context.Background()

	s.AppendEvents(ctx, []trail.Event{{Kind: trail.KindClick, SessionID: "sess_a",
		SourceID: "tab1", TimestampMS: 5000, URL: "u"}})
	s.AppendEvents(ctx, []trail.Event{{Kind: trail.KindClick, SessionID: "sess_a",
		SourceID: "tab1", TimestampMS: 3000, URL: "u"}})
	s.AppendEvents(ctx, []trail.Event{{Kind: trail.KindClick, SessionID: "sess_a",
		SourceID: "tab1", TimestampMS: 9000, URL: "u"}})

	sess, _ := s.Session(ctx, "sess_a")
	if sess.StartMS != 3000 || sess.LastEventMS != 9000 {
		t.Fatalf("window = [%d,%d], want [3000,9000]", sess.StartMS, sess.LastEventMS)
	}
}

func TestSession_EventsChronological(t *testing.T) {
	// WHAT: Events load sorted by timestamp regardless of insert order.
	// WHY: Rule derivation requires a chronologically sorted trail.
	s := setupStore(t)
	ctx := context.Background()

	s.AppendEvents(ctx, []trail.Event{
		{Kind: trail.KindClick, SessionID: "sess_a", SourceID: "tab1", TimestampMS: 3000, URL: "u", Value: "third"},
		{Kind: trail.KindClick, SessionID: "sess_a", SourceID: "tab1", TimestampMS: 1000, URL: "u", Value: "first"},
		{Kind: trail.KindClick, SessionID: "sess_a", SourceID: "tab1", TimestampMS: 2000, URL: "u", Value: "second"},
	})

	sess, _ := s.Session(ctx, "sess_a")
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if sess.Events[i].Value != w {
			t.Errorf("event[%d] = %q, want %q", i, sess.Events[i].Value, w)
		}
	}
}

func TestSession_Unknown(t *testing.T) {
	s := setupStore(t)
	sess, err := s.Session(context.Background(), "nope")
	if err != nil || sess != nil {
		t.Fatalf("got (%v,%v), want (nil,nil)", sess, err)
	}
}

func TestLinkArtifact(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.AppendEvents(ctx, []trail.Event{{Kind: trail.KindClick, SessionID: "sess_a",
		SourceID: "tab1", TimestampMS: 1000, URL: "u"}})
	if err := s.LinkArtifact(ctx, "sess_a", "art_1"); err != nil {
		t.Fatalf("link: %v", err)
	}

	sess, _ := s.Session(ctx, "sess_a")
	if sess.ArtifactID != "art_1" {
		t.Fatalf("artifact = %q, want art_1", sess.ArtifactID)
	}

	list, err := s.ListSessions(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = (%v,%v)", list, err)
	}
	if list[0].ArtifactID != "art_1" {
		t.Errorf("listed artifact = %q", list[0].ArtifactID)
	}
}
