package drift

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/topology"
	"github.com/archscope/archscope/internal/utils"
)

var (
	// ErrDriftRunInProgress is returned when a second drift run starts while
	// one is already executing. Transient; callers retry later.
	ErrDriftRunInProgress = errors.New("drift run already in progress")

	// ErrNoBaseline distinguishes a first run from a comparison. It is a
	// control-flow signal, not a failure.
	ErrNoBaseline = errors.New("no baseline snapshot")

	// ErrDuplicateSnapshot is returned when a historical snapshot key cannot
	// be disambiguated.
	ErrDuplicateSnapshot = errors.New("duplicate history snapshot")

	// ErrStorageUnavailable wraps persistence failures under the history or
	// baseline paths.
	ErrStorageUnavailable = errors.New("drift storage unavailable")
)

// Weights controls the score contribution of each change category.
// Structural change (services) weighs most, dependency change next, and
// traffic change (call counts) least, with its own contribution cap.
type Weights struct {
	ServiceAdded      int `yaml:"serviceAdded"`
	ServiceRemoved    int `yaml:"serviceRemoved"`
	DependencyAdded   int `yaml:"dependencyAdded"`
	DependencyRemoved int `yaml:"dependencyRemoved"`
	EndpointAdded     int `yaml:"endpointAdded"`
	EndpointRemoved   int `yaml:"endpointRemoved"`
	CallCountChanged  int `yaml:"callCountChanged"`
	CallCountCap      int `yaml:"callCountCap"`
}

// DefaultWeights mirrors the scoring policy the detector shipped with.
func DefaultWeights() Weights {
	return Weights{
		ServiceAdded:      15,
		ServiceRemoved:    20,
		DependencyAdded:   7,
		DependencyRemoved: 10,
		EndpointAdded:     3,
		EndpointRemoved:   5,
		CallCountChanged:  2,
		CallCountCap:      10,
	}
}

// Thresholds partitions [0,100] into the four severity bands:
// score < Medium is LOW, < High is MEDIUM, < Critical is HIGH, else CRITICAL.
type Thresholds struct {
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// DefaultThresholds returns the shipped band boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 20, High: 50, Critical: 80}
}

// Validate rejects thresholds that are not monotonic or leave gaps in [0,100].
func (t Thresholds) Validate() error {
	if t.Medium <= 0 || t.Medium >= t.High || t.High >= t.Critical || t.Critical > 100 {
		return fmt.Errorf("severity thresholds must satisfy 0 < medium < high < critical <= 100, got %d/%d/%d",
			t.Medium, t.High, t.Critical)
	}
	return nil
}

// Options configures a drift engine.
type Options struct {
	BaselinePath string
	HistoryDir   string
	Weights      Weights
	Thresholds   Thresholds
	// RemovalFloor is the minimum score when any service was removed.
	RemovalFloor int
}

// Engine compares topology snapshots against the persisted baseline, scores
// the drift, and maintains the snapshot history. Runs are single-writer:
// baseline and history writes are never concurrent.
type Engine struct {
	logger     *slog.Logger
	weights    Weights
	thresholds Thresholds
	floor      int
	baseline   *baselineStore
	history    *historyStore

	runMu sync.Mutex
}

// NewEngine constructs an Engine and prepares its storage directories.
func NewEngine(opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaselinePath == "" || opts.HistoryDir == "" {
		return nil, fmt.Errorf("baseline path and history dir are required")
	}
	if (opts.Weights == Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if (opts.Thresholds == Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.RemovalFloor < 0 || opts.RemovalFloor > 100 {
		return nil, fmt.Errorf("removal floor must be in [0,100], got %d", opts.RemovalFloor)
	}
	if opts.RemovalFloor == 0 {
		opts.RemovalFloor = opts.Thresholds.High
	}

	history, err := newHistoryStore(opts.HistoryDir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		logger:     logger,
		weights:    opts.Weights,
		thresholds: opts.Thresholds,
		floor:      opts.RemovalFloor,
		baseline:   newBaselineStore(opts.BaselinePath),
		history:    history,
	}, nil
}

// Compute scores the drift from baseline to current. It is pure: no
// persistence, no locking. Score is bounded to [0,100]; no structural change
// means score 0; any service removal raises the score to at least the floor.
func (e *Engine) Compute(baseline, current *topology.Snapshot) models.DriftReport {
	delta := topology.Diff(baseline, current)
	score := e.score(delta)

	return models.DriftReport{
		ID:                  uuid.NewString(),
		PreviousRef:         utils.SnapshotKey(baseline.CapturedAt),
		CurrentRef:          utils.SnapshotKey(current.CapturedAt),
		AddedServices:       delta.AddedServices,
		RemovedServices:     delta.RemovedServices,
		AddedDependencies:   delta.AddedDependencies,
		RemovedDependencies: delta.RemovedDependencies,
		ChangedCallCounts:   delta.ChangedCallCounts,
		AddedEndpoints:      delta.AddedEndpoints,
		RemovedEndpoints:    delta.RemovedEndpoints,
		Score:               score,
		Severity:            e.severityFor(score),
		ComparedAt:          time.Now().UTC(),
	}
}

func (e *Engine) score(delta topology.Delta) int {
	score := 0
	score += len(delta.AddedServices) * e.weights.ServiceAdded
	score += len(delta.RemovedServices) * e.weights.ServiceRemoved
	score += len(delta.AddedDependencies) * e.weights.DependencyAdded
	score += len(delta.RemovedDependencies) * e.weights.DependencyRemoved
	score += len(delta.AddedEndpoints) * e.weights.EndpointAdded
	score += len(delta.RemovedEndpoints) * e.weights.EndpointRemoved

	traffic := len(delta.ChangedCallCounts) * e.weights.CallCountChanged
	if e.weights.CallCountCap > 0 && traffic > e.weights.CallCountCap {
		traffic = e.weights.CallCountCap
	}
	score += traffic

	if len(delta.RemovedServices) > 0 && score < e.floor {
		score = e.floor
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (e *Engine) severityFor(score int) models.Severity {
	switch {
	case score < e.thresholds.Medium:
		return models.SeverityLow
	case score < e.thresholds.High:
		return models.SeverityMedium
	case score < e.thresholds.Critical:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// RunResult is the outcome of one drift run. On a first run the current
// snapshot becomes the baseline and no report is synthesized: "baseline
// established" and "zero drift" are different statements.
type RunResult struct {
	BaselineEstablished bool                `json:"baseline_established"`
	BaselineRef         string              `json:"baseline_ref,omitempty"`
	Report              *models.DriftReport `json:"report,omitempty"`
}

// Run executes one drift cycle: compare the snapshot against the persisted
// baseline, append it to history, record the report, and roll the baseline
// forward. A concurrent run fails fast with ErrDriftRunInProgress. A failed
// run leaves the previous baseline intact and is safe to retry.
func (e *Engine) Run(current *topology.Snapshot) (RunResult, error) {
	if current == nil {
		return RunResult{}, fmt.Errorf("current snapshot is nil")
	}
	if !e.runMu.TryLock() {
		return RunResult{}, ErrDriftRunInProgress
	}
	defer e.runMu.Unlock()

	baseline, err := e.baseline.Load()
	if errors.Is(err, ErrNoBaseline) {
		return e.establishBaseline(current)
	}
	if err != nil {
		return RunResult{}, err
	}

	report := e.Compute(baseline, current)

	// An unchanged topology produces a zero-score report but no duplicate
	// history entry.
	if current.Hash() != baseline.Hash() {
		ref, err := e.history.AppendSnapshot(current)
		if err != nil {
			return RunResult{}, err
		}
		report.CurrentRef = ref
	}
	if err := e.history.AppendReport(report); err != nil {
		return RunResult{}, err
	}
	if err := e.baseline.Replace(current); err != nil {
		return RunResult{}, err
	}

	e.logger.Info("drift run complete",
		slog.Int("score", report.Score),
		slog.String("severity", string(report.Severity)),
		slog.String("current_ref", report.CurrentRef))
	return RunResult{Report: &report}, nil
}

func (e *Engine) establishBaseline(current *topology.Snapshot) (RunResult, error) {
	ref, err := e.history.AppendSnapshot(current)
	if err != nil {
		return RunResult{}, err
	}
	if err := e.baseline.Replace(current); err != nil {
		return RunResult{}, err
	}
	e.logger.Info("baseline established", slog.String("ref", ref))
	return RunResult{BaselineEstablished: true, BaselineRef: ref}, nil
}

// Baseline returns the persisted baseline snapshot, or ErrNoBaseline.
func (e *Engine) Baseline() (*topology.Snapshot, error) {
	return e.baseline.Load()
}

// PersistBaseline atomically replaces the baseline without running a
// comparison.
func (e *Engine) PersistBaseline(snapshot *topology.Snapshot) error {
	if !e.runMu.TryLock() {
		return ErrDriftRunInProgress
	}
	defer e.runMu.Unlock()
	return e.baseline.Replace(snapshot)
}

// Reports returns all recorded drift reports in append order.
func (e *Engine) Reports() ([]models.DriftReport, error) {
	return e.history.Reports()
}
