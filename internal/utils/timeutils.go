package utils

import (
	"fmt"
	"time"
)

const snapshotKeyLayout = "20060102_150405"

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// SnapshotKey formats a capture timestamp into the file-name key used for
// historical snapshots, e.g. 20260829_153045.
func SnapshotKey(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(snapshotKeyLayout)
}
