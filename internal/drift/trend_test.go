package drift

import (
	"testing"
	"time"

	"github.com/archscope/archscope/internal/topology"
)

func TestTrendEmptyHistory(t *testing.T) {
	engine := newTestEngine(t)

	trend, err := engine.Trend()
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if trend.TotalRuns != 0 || trend.ChangedRuns != 0 {
		t.Errorf("trend = %+v, want zero runs", trend)
	}
	if len(trend.Entries) != 0 {
		t.Errorf("got %d entries, want 0", len(trend.Entries))
	}
}

func TestTrendStabilityRateAndGrowth(t *testing.T) {
	engine := newTestEngine(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := snapshotWith([]string{"frontend"}, nil)
	first.CapturedAt = base
	if _, err := engine.Run(first); err != nil {
		t.Fatalf("run 1: %v", err)
	}

	// Run 2: one added service, changed.
	second := snapshotWith([]string{"frontend", "cart"}, nil)
	second.CapturedAt = base.Add(time.Minute)
	if _, err := engine.Run(second); err != nil {
		t.Fatalf("run 2: %v", err)
	}

	// Run 3: unchanged.
	third := snapshotWith([]string{"frontend", "cart"}, nil)
	third.CapturedAt = base.Add(2 * time.Minute)
	if _, err := engine.Run(third); err != nil {
		t.Fatalf("run 3: %v", err)
	}

	// Run 4: adds an edge, changed.
	fourth := snapshotWith(nil, []topology.Dependency{{From: "frontend", To: "cart", Count: 1}})
	fourth.CapturedAt = base.Add(3 * time.Minute)
	if _, err := engine.Run(fourth); err != nil {
		t.Fatalf("run 4: %v", err)
	}

	trend, err := engine.Trend()
	if err != nil {
		t.Fatalf("trend: %v", err)
	}

	// The first run establishes the baseline and records no report.
	if trend.TotalRuns != 3 {
		t.Fatalf("TotalRuns = %d, want 3", trend.TotalRuns)
	}
	if trend.ChangedRuns != 2 {
		t.Errorf("ChangedRuns = %d, want 2", trend.ChangedRuns)
	}
	wantRate := float64(1) / float64(3) * 100
	if diff := trend.StabilityRate - wantRate; diff > 0.001 || diff < -0.001 {
		t.Errorf("StabilityRate = %f, want %f", trend.StabilityRate, wantRate)
	}

	if len(trend.Growth) != 3 {
		t.Fatalf("got %d growth metrics, want 3", len(trend.Growth))
	}
	for _, growth := range trend.Growth {
		switch growth.Metric {
		case "services":
			if growth.First != 1 || growth.Last != 2 || growth.Change != 1 {
				t.Errorf("services growth = %+v, want 1 -> 2", growth)
			}
		case "dependencies":
			if growth.First != 0 || growth.Last != 1 || growth.Change != 1 {
				t.Errorf("dependencies growth = %+v, want 0 -> 1", growth)
			}
		case "endpoints":
			if growth.Change != 0 {
				t.Errorf("endpoints growth = %+v, want no change", growth)
			}
		default:
			t.Errorf("unexpected growth metric %q", growth.Metric)
		}
	}
}
