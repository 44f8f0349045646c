package correlate

import (
	"testing"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/trail"
)

func TestMatch_PicksLargestOverlap(t *testing.T) {
	// WHAT: An artifact recorded over [900,1200] links to the session
	// spanning [0,1000], not the one spanning [5000,6000].
	c := New(Config{}, nil)

	art := artifact.Artifact{ID: "art_1", DurationMS: 300, CompletedAtMS: 1200}
	open := []trail.Session{
		{ID: "sess_early", StartMS: 0, LastEventMS: 1000},
		{ID: "sess_late", StartMS: 5000, LastEventMS: 6000},
	}

	id, overlap := c.Match(art, open)
	if id != "sess_early" {
		t.Fatalf("linked to %q, want sess_early", id)
	}
	if overlap <= 0 {
		t.Fatalf("overlap = %d, want > 0", overlap)
	}
}

func TestMatch_ThresholdLeavesOrphan(t *testing.T) {
	// WHAT: When no session clears the minimum overlap, the artifact
	// stays unlinked rather than guessing.
	c := New(Config{GraceMS: 100, MinOverlapMS: 500}, nil)

	art := artifact.Artifact{ID: "art_1", DurationMS: 300, CompletedAtMS: 1200}
	open := []trail.Session{
		{ID: "sess_far", StartMS: 60_000, LastEventMS: 70_000},
	}

	id, overlap := c.Match(art, open)
	if id != "" || overlap != 0 {
		t.Fatalf("got (%q,%d), want no link", id, overlap)
	}
}

func TestMatch_FallbackDuration(t *testing.T) {
	// WHAT: A missing duration assumes the fallback instead of a
	// zero-width window.
	// WHY: Heuristic carried from the original recorder; without it an
	// artifact with absent metadata could never clear the threshold.
	c := New(Config{GraceMS: 100, MinOverlapMS: 500, FallbackDurationMS: 8000}, nil)

	art := artifact.Artifact{ID: "art_1", CompletedAtMS: 10_000} // no duration
	open := []trail.Session{
		{ID: "sess_a", StartMS: 3000, LastEventMS: 9000},
	}

	id, _ := c.Match(art, open)
	if id != "sess_a" {
		t.Fatalf("linked to %q, want sess_a", id)
	}
}

func TestMatch_NoSessions(t *testing.T) {
	c := New(Config{}, nil)
	id, overlap := c.Match(artifact.Artifact{ID: "art_1", CompletedAtMS: 1000}, nil)
	if id != "" || overlap != 0 {
		t.Fatalf("got (%q,%d), want no link", id, overlap)
	}
}

func TestOverlap(t *testing.T) {
	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd int64
		want                       int64
	}{
		{"partial", 900, 1200, 0, 1000, 100},
		{"disjoint", 0, 100, 200, 300, 0},
		{"contained", 100, 200, 0, 1000, 100},
		{"touching", 0, 100, 100, 200, 0},
	}
	for _, tc := range cases {
		if got := overlap(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
			t.Errorf("%s: overlap = %d, want %d", tc.name, got, tc.want)
		}
	}
}
