// Package system exercises the real-time clock adapter.
package system

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

// TestClockAfterFunc checks callbacks fire and can be stopped.
func TestClockAfterFunc(t *testing.T) {
	t.Parallel()

	clk := New()
	fired := make(chan struct{})
	clk.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected callback to fire")
	}

	var calls atomic.Int32
	timer := clk.AfterFunc(time.Hour, func() { calls.Add(1) })
	if !timer.Stop() {
		t.Fatal("expected Stop to cancel pending timer")
	}
	if calls.Load() != 0 {
		t.Fatal("expected stopped callback not to run")
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}
