package drift

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/topology"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := NewEngine(Options{
		BaselinePath: filepath.Join(dir, "baseline.json"),
		HistoryDir:   filepath.Join(dir, "history"),
	}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func snapshotWith(services []string, edges []topology.Dependency) *topology.Snapshot {
	s := topology.NewSnapshot(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	for _, name := range services {
		s.AddService(name)
	}
	for _, edge := range edges {
		s.AddDependency(edge.From, edge.To, edge.Count)
	}
	return s
}

func TestComputeNoChangeScoresZero(t *testing.T) {
	engine := newTestEngine(t)
	a := snapshotWith([]string{"frontend", "cart"}, []topology.Dependency{{From: "frontend", To: "cart", Count: 3}})
	b := snapshotWith([]string{"frontend", "cart"}, []topology.Dependency{{From: "frontend", To: "cart", Count: 3}})

	report := engine.Compute(a, b)
	if report.Score != 0 {
		t.Errorf("Score = %d, want 0", report.Score)
	}
	if report.Severity != models.SeverityLow {
		t.Errorf("Severity = %s, want LOW", report.Severity)
	}
	if report.ID == "" {
		t.Error("report missing id")
	}
}

func TestComputeScoresByCategory(t *testing.T) {
	engine := newTestEngine(t)

	cases := []struct {
		name      string
		baseline  *topology.Snapshot
		current   *topology.Snapshot
		wantScore int
		wantSev   models.Severity
	}{
		{
			name:      "one added service",
			baseline:  snapshotWith([]string{"a"}, nil),
			current:   snapshotWith([]string{"a", "b"}, nil),
			wantScore: 15,
			wantSev:   models.SeverityLow,
		},
		{
			name:     "one removed service hits the floor",
			baseline: snapshotWith([]string{"a", "b"}, nil),
			current:  snapshotWith([]string{"a"}, nil),
			// Raw score 20 is raised to the removal floor.
			wantScore: 50,
			wantSev:   models.SeverityHigh,
		},
		{
			name:      "added dependency",
			baseline:  snapshotWith([]string{"a", "b"}, nil),
			current:   snapshotWith(nil, []topology.Dependency{{From: "a", To: "b", Count: 1}}),
			wantScore: 7,
			wantSev:   models.SeverityLow,
		},
		{
			name:      "two added services and a dependency",
			baseline:  snapshotWith([]string{"a"}, nil),
			current:   snapshotWith([]string{"a"}, []topology.Dependency{{From: "b", To: "c", Count: 1}}),
			wantScore: 15 + 15 + 7,
			wantSev:   models.SeverityMedium,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := engine.Compute(tc.baseline, tc.current)
			if report.Score != tc.wantScore {
				t.Errorf("Score = %d, want %d", report.Score, tc.wantScore)
			}
			if report.Severity != tc.wantSev {
				t.Errorf("Severity = %s, want %s", report.Severity, tc.wantSev)
			}
		})
	}
}

func TestComputeNewServiceWithDependency(t *testing.T) {
	engine := newTestEngine(t)
	baseline := snapshotWith(nil, []topology.Dependency{{From: "a", To: "b", Count: 5}})
	current := snapshotWith(nil, []topology.Dependency{
		{From: "a", To: "b", Count: 5},
		{From: "b", To: "c", Count: 1},
	})

	report := engine.Compute(baseline, current)

	if len(report.AddedServices) != 1 || report.AddedServices[0] != "c" {
		t.Errorf("AddedServices = %v, want [c]", report.AddedServices)
	}
	if len(report.AddedDependencies) != 1 || report.AddedDependencies[0] != (topology.Dependency{From: "b", To: "c", Count: 1}) {
		t.Errorf("AddedDependencies = %v", report.AddedDependencies)
	}
	if report.Score <= 0 {
		t.Errorf("Score = %d, want positive", report.Score)
	}
	if report.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want MEDIUM", report.Severity)
	}
}

func TestComputeScoreMonotonicInChanges(t *testing.T) {
	engine := newTestEngine(t)
	baseline := snapshotWith([]string{"a"}, nil)

	previous := 0
	for _, services := range [][]string{
		{"a", "b"},
		{"a", "b", "c"},
		{"a", "b", "c", "d"},
	} {
		report := engine.Compute(baseline, snapshotWith(services, nil))
		if report.Score < previous {
			t.Fatalf("score decreased from %d to %d for %v", previous, report.Score, services)
		}
		previous = report.Score
	}
}

func TestComputeScoreCappedAtHundred(t *testing.T) {
	engine := newTestEngine(t)
	baseline := snapshotWith([]string{"old-1", "old-2", "old-3"}, nil)
	current := snapshotWith([]string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8"}, nil)

	report := engine.Compute(baseline, current)
	if report.Score != 100 {
		t.Errorf("Score = %d, want capped at 100", report.Score)
	}
	if report.Severity != models.SeverityCritical {
		t.Errorf("Severity = %s, want CRITICAL", report.Severity)
	}
}

func TestComputeTrafficContributionIsCapped(t *testing.T) {
	engine := newTestEngine(t)
	baseline := topology.NewSnapshot(time.Now())
	current := topology.NewSnapshot(time.Now())
	// Ten changed call counts would contribute 20 without the cap.
	for _, pair := range [][2]string{
		{"a", "b"}, {"a", "c"}, {"a", "d"}, {"b", "c"}, {"b", "d"},
		{"c", "d"}, {"d", "e"}, {"e", "a"}, {"e", "b"}, {"e", "c"},
	} {
		baseline.AddDependency(pair[0], pair[1], 1)
		current.AddDependency(pair[0], pair[1], 2)
	}

	report := engine.Compute(baseline, current)
	if report.Score != DefaultWeights().CallCountCap {
		t.Errorf("Score = %d, want traffic cap %d", report.Score, DefaultWeights().CallCountCap)
	}
}

func TestRunFirstRunEstablishesBaseline(t *testing.T) {
	engine := newTestEngine(t)
	current := snapshotWith([]string{"frontend", "cart"}, nil)

	result, err := engine.Run(current)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.BaselineEstablished {
		t.Error("BaselineEstablished = false on first run")
	}
	if result.Report != nil {
		t.Error("first run synthesized a report")
	}
	if result.BaselineRef == "" {
		t.Error("first run missing baseline ref")
	}

	baseline, err := engine.Baseline()
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if !topology.Equal(baseline, current) {
		t.Error("persisted baseline differs from submitted snapshot")
	}
}

func TestRunRollsBaselineForward(t *testing.T) {
	engine := newTestEngine(t)

	first := snapshotWith([]string{"frontend"}, nil)
	if _, err := engine.Run(first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := snapshotWith([]string{"frontend", "cart"}, nil)
	second.CapturedAt = first.CapturedAt.Add(time.Minute)
	result, err := engine.Run(second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Report == nil {
		t.Fatal("second run produced no report")
	}
	if result.Report.Score != 15 {
		t.Errorf("Score = %d, want 15 for one added service", result.Report.Score)
	}

	// The baseline rolled forward, so re-running the same topology drifts zero.
	third := snapshotWith([]string{"frontend", "cart"}, nil)
	third.CapturedAt = second.CapturedAt.Add(time.Minute)
	result, err = engine.Run(third)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if result.Report == nil || result.Report.Score != 0 {
		t.Errorf("third run = %+v, want zero-score report", result.Report)
	}
}

func TestRunUnchangedTopologySkipsHistoryEntry(t *testing.T) {
	engine := newTestEngine(t)

	first := snapshotWith([]string{"frontend"}, nil)
	if _, err := engine.Run(first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	same := snapshotWith([]string{"frontend"}, nil)
	same.CapturedAt = first.CapturedAt.Add(time.Hour)
	if _, err := engine.Run(same); err != nil {
		t.Fatalf("second run: %v", err)
	}

	keys, err := engine.history.SnapshotKeys()
	if err != nil {
		t.Fatalf("snapshot keys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("history has %d snapshots, want 1 (unchanged run deduplicated)", len(keys))
	}

	reports, err := engine.Reports()
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("got %d reports, want 1 (zero-score runs still recorded)", len(reports))
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	engine := newTestEngine(t)

	engine.runMu.Lock()
	defer engine.runMu.Unlock()

	_, err := engine.Run(snapshotWith([]string{"frontend"}, nil))
	if !errors.Is(err, ErrDriftRunInProgress) {
		t.Fatalf("err = %v, want ErrDriftRunInProgress", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewEngine(Options{}, nil); err == nil {
		t.Error("expected error for missing paths")
	}

	_, err := NewEngine(Options{
		BaselinePath: filepath.Join(dir, "baseline.json"),
		HistoryDir:   filepath.Join(dir, "history"),
		Thresholds:   Thresholds{Medium: 50, High: 20, Critical: 80},
	}, nil)
	if err == nil {
		t.Error("expected error for non-monotonic thresholds")
	}

	_, err = NewEngine(Options{
		BaselinePath: filepath.Join(dir, "baseline.json"),
		HistoryDir:   filepath.Join(dir, "history"),
		RemovalFloor: 150,
	}, nil)
	if err == nil {
		t.Error("expected error for out-of-range removal floor")
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}
	bad := []Thresholds{
		{Medium: 0, High: 50, Critical: 80},
		{Medium: 20, High: 20, Critical: 80},
		{Medium: 20, High: 50, Critical: 101},
	}
	for i, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, th)
		}
	}
}
