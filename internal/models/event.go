package models

import "time"

// LogEvent is one structured trace event emitted by a service. Events are
// immutable once appended; Sequence is the store-local serialization point.
type LogEvent struct {
	Sequence      uint64         `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Service       string         `json:"service"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Trace is the ordered reconstruction of events for one correlation id.
// It is derived, never stored: recomputing it from the same store state
// yields an identical sequence.
type Trace struct {
	CorrelationID    string     `json:"correlation_id"`
	Events           []LogEvent `json:"trace"`
	ServicesInvolved []string   `json:"services_involved"`
}

// Empty reports whether the trace contains no events. Callers distinguish
// "no such flow" from "flow with zero services" only by event emptiness.
func (t Trace) Empty() bool {
	return len(t.Events) == 0
}
