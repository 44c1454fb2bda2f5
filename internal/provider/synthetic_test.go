package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyntheticPicksFromCatalog(t *testing.T) {
	catalog := []string{"a", "b", "c"}
	s, err := NewSynthetic(catalog, 0)
	if err != nil {
		t.Fatalf("new synthetic: %v", err)
	}
	s.WithSeed(42)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		reply, err := s.Reply(context.Background(), "anything", nil)
		if err != nil {
			t.Fatalf("synthetic must not fail: %v", err)
		}
		seen[reply] = true
	}
	for r := range seen {
		if r != "a" && r != "b" && r != "c" {
			t.Fatalf("reply %q not in catalog", r)
		}
	}
	if len(seen) != len(catalog) {
		t.Fatalf("expected every catalog entry over 200 draws, saw %v", seen)
	}
}

func TestSyntheticRejectsEmptyCatalog(t *testing.T) {
	if _, err := NewSynthetic(nil, time.Second); err == nil {
		t.Fatalf("expected error for empty catalog")
	}
}

func TestSyntheticDelay(t *testing.T) {
	s, _ := NewSynthetic([]string{"ok"}, 30*time.Millisecond)

	start := time.Now()
	if _, err := s.Reply(context.Background(), "x", nil); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected the artificial delay to elapse")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Reply(ctx, "x", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to cut the delay short, got %v", err)
	}
}
