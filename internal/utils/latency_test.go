package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Percentile(0); got != 1*time.Millisecond {
		t.Errorf("p0 = %v, want 1ms", got)
	}
	if got := tracker.Percentile(100); got != 100*time.Millisecond {
		t.Errorf("p100 = %v, want 100ms", got)
	}
	if got := tracker.Percentile(50); got < 45*time.Millisecond || got > 55*time.Millisecond {
		t.Errorf("p50 = %v, want around 50ms", got)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(10)
	if got := tracker.Percentile(95); got != 0 {
		t.Errorf("p95 of empty tracker = %v, want 0", got)
	}
	if tracker.Count() != 0 {
		t.Errorf("Count = %d, want 0", tracker.Count())
	}
}

func TestLatencyTrackerBoundsSamples(t *testing.T) {
	tracker := NewLatencyTracker(5)
	for i := 0; i < 20; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 5 {
		t.Errorf("Count = %d, want bounded at 5", tracker.Count())
	}
	// Oldest samples are evicted first.
	if got := tracker.Percentile(0); got != 15*time.Millisecond {
		t.Errorf("min after eviction = %v, want 15ms", got)
	}
}
