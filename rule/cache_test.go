package rule

import (
	"context"
	"testing"
)

// WHAT: Reload snapshots the store; Get/All serve from memory.
// WHY: replay daemons read rules on every run and must not hit the DB.
func TestCacheReload(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cache := NewCache(s)
	if err := cache.Reload(ctx); err != nil {
		t.Fatalf("reload empty: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("Len = %d, want 0", cache.Len())
	}

	r := &Rule{ID: "rule_a", Name: "login", Steps: []Step{{Kind: StepNavigate, URL: "https://example.com"}}}
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}

	// Stale until reloaded.
	if got := cache.Get("rule_a"); got != nil {
		t.Fatalf("Get before reload = %v, want nil", got)
	}
	if err := cache.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	got := cache.Get("rule_a")
	if got == nil || got.Name != "login" {
		t.Fatalf("Get after reload = %v", got)
	}
	if len(cache.All()) != 1 {
		t.Fatalf("All = %d rules, want 1", len(cache.All()))
	}
}

func TestCacheAllCopies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, &Rule{ID: "rule_b", Name: "b"}); err != nil {
		t.Fatal(err)
	}

	cache := NewCache(s)
	if err := cache.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	all := cache.All()
	all[0] = nil
	if cache.Get("rule_b") == nil {
		t.Fatal("mutating All() result affected cache")
	}
}
