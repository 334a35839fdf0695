// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
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

// TestClockNowMillis checks timestamps survive the epoch-millisecond round trip used in records.
func TestClockNowMillis(t *testing.T) {
	t.Parallel()

	now := New().Now()
	ms := now.UnixMilli()
	if got := time.UnixMilli(ms).UnixMilli(); got != ms {
		t.Fatalf("expected %d, got %d", ms, got)
	}
	if ms <= 0 {
		t.Fatalf("expected positive epoch millis, got %d", ms)
	}
}
