package drift

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/topology"
	"github.com/archscope/archscope/internal/utils"
)

// maxKeyCollisions bounds the monotonic suffix used to disambiguate
// snapshots captured within the same second.
const maxKeyCollisions = 1000

// baselineStore holds the single replaceable baseline reference.
type baselineStore struct {
	path string
}

func newBaselineStore(path string) *baselineStore {
	return &baselineStore{path: path}
}

// Load reads the baseline snapshot. A missing file is ErrNoBaseline.
func (b *baselineStore) Load() (*topology.Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoBaseline
		}
		return nil, fmt.Errorf("%w: read baseline: %v", ErrStorageUnavailable, err)
	}
	var snapshot topology.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", b.path, err)
	}
	return &snapshot, nil
}

// Replace atomically swaps the baseline via write-temp-then-rename, so an
// interrupted process never leaves a half-written baseline.
func (b *baselineStore) Replace(snapshot *topology.Snapshot) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create baseline dir: %v", ErrStorageUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp baseline: %v", ErrStorageUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp baseline: %v", ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp baseline: %v", ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp baseline: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("%w: replace baseline: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// historyStore owns the directory of immutable dated snapshots and the
// append-only drift report log.
type historyStore struct {
	dir         string
	reportsPath string
}

func newHistoryStore(dir string) (*historyStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create history dir: %v", ErrStorageUnavailable, err)
	}
	return &historyStore{
		dir:         dir,
		reportsPath: filepath.Join(dir, "reports.jsonl"),
	}, nil
}

// AppendSnapshot writes a dated, immutable historical snapshot and returns
// its key. A capture-timestamp collision is disambiguated with a monotonic
// counter; exhausting the counter yields ErrDuplicateSnapshot. Existing
// entries are never overwritten.
func (h *historyStore) AppendSnapshot(snapshot *topology.Snapshot) (string, error) {
	base := utils.SnapshotKey(snapshot.CapturedAt)
	for i := 0; i < maxKeyCollisions; i++ {
		key := base
		if i > 0 {
			key = fmt.Sprintf("%s_%d", base, i)
		}
		path := filepath.Join(h.dir, "snapshot_"+key+".json")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: create history snapshot: %v", ErrStorageUnavailable, err)
		}

		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snapshot); err != nil {
			file.Close()
			os.Remove(path)
			return "", fmt.Errorf("%w: write history snapshot: %v", ErrStorageUnavailable, err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("%w: close history snapshot: %v", ErrStorageUnavailable, err)
		}
		return key, nil
	}
	return "", fmt.Errorf("%w: key %s", ErrDuplicateSnapshot, base)
}

// SnapshotKeys lists historical snapshot keys in chronological order.
func (h *historyStore) SnapshotKeys() ([]string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read history dir: %v", ErrStorageUnavailable, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// LoadSnapshot reads one historical snapshot by key.
func (h *historyStore) LoadSnapshot(key string) (*topology.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(h.dir, "snapshot_"+key+".json"))
	if err != nil {
		return nil, fmt.Errorf("%w: read history snapshot %s: %v", ErrStorageUnavailable, key, err)
	}
	var snapshot topology.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse history snapshot %s: %w", key, err)
	}
	return &snapshot, nil
}

// AppendReport appends one report to the history log, one JSON record per line.
func (h *historyStore) AppendReport(report models.DriftReport) error {
	file, err := os.OpenFile(h.reportsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open report log: %v", ErrStorageUnavailable, err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(report); err != nil {
		return fmt.Errorf("%w: append report: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Reports reads the full report log in append order. A missing log is an
// empty history.
func (h *historyStore) Reports() ([]models.DriftReport, error) {
	file, err := os.Open(h.reportsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open report log: %v", ErrStorageUnavailable, err)
	}
	defer file.Close()

	var reports []models.DriftReport
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report models.DriftReport
		if err := json.Unmarshal(line, &report); err != nil {
			return nil, fmt.Errorf("parse report log: %w", err)
		}
		reports = append(reports, report)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read report log: %v", ErrStorageUnavailable, err)
	}
	return reports, nil
}
