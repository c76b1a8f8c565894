package ratewindow

import (
	"testing"
	"time"
)

func TestWindow_AllowsUpToMaxThenBlocks(t *testing.T) {
	w := New(time.Minute, 2)
	if _, ok := w.Allow("peer"); !ok {
		t.Fatalf("first Allow should succeed")
	}
	if _, ok := w.Allow("peer"); !ok {
		t.Fatalf("second Allow should succeed")
	}
	if _, ok := w.Allow("peer"); ok {
		t.Fatalf("third Allow should be rate limited")
	}
}

func TestWindow_SeparateCategories(t *testing.T) {
	w := New(time.Minute, 1)
	if _, ok := w.Allow("a"); !ok {
		t.Fatalf("category a should be allowed")
	}
	if _, ok := w.Allow("b"); !ok {
		t.Fatalf("category b should be allowed independently of a")
	}
}

func TestBackoff_Allow(t *testing.T) {
	b := NewBackoff(time.Minute, 1)
	if _, ok := b.Allow(); !ok {
		t.Fatalf("first backoff attempt should be allowed")
	}
	if _, ok := b.Allow(); ok {
		t.Fatalf("second backoff attempt should be blocked")
	}
}
