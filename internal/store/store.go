package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/utils"
)

// ErrMalformedEvent rejects ingestion of events missing a required field.
var ErrMalformedEvent = errors.New("malformed event")

// ErrStorageUnavailable signals that the append-only file could not be
// written. The in-memory table keeps serving reads and accepting appends.
var ErrStorageUnavailable = errors.New("event storage unavailable")

// Stats are point-in-time aggregate counts over the store, maintained
// incrementally so reads are O(1).
type Stats struct {
	TotalEvents          int      `json:"total_logs"`
	UniqueServices       int      `json:"unique_services"`
	UniqueCorrelationIDs int      `json:"unique_correlation_ids"`
	Services             []string `json:"services"`
}

// Filter narrows a search over ingested events. Empty fields match anything.
type Filter struct {
	CorrelationID string `json:"correlation_id"`
	Service       string `json:"service"`
	UserID        string `json:"user_id"`
}

// EventStore is an append-only log of structured trace events keyed by
// correlation id. All mutation goes through Append; the assigned sequence
// number is the serialization point. When a path is configured, every event
// is also written as one JSON record per line to an append-only file and
// replayed on open.
type EventStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	path     string
	file     *os.File
	degraded bool

	events         []models.LogEvent
	byCorrelation  map[string][]int
	services       map[string]struct{}
	correlationIDs map[string]struct{}
	nextSeq        uint64
}

// Open initialises an event store. An empty path keeps the store
// memory-only; otherwise prior events are replayed from the file and new
// appends are persisted to it.
func Open(path string, logger *slog.Logger) (*EventStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &EventStore{
		logger:         logger,
		path:           path,
		byCorrelation:  make(map[string][]int),
		services:       make(map[string]struct{}),
		correlationIDs: make(map[string]struct{}),
		nextSeq:        1,
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, utils.NewAppError("store.Open", "create store directory", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, utils.NewAppError("store.Open", "open event log "+path, err)
	}
	s.file = file
	if err := s.replay(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) replay() error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek event log: %w", err)
	}
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event models.LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			skipped++
			continue
		}
		if event.CorrelationID == "" || event.Service == "" {
			skipped++
			continue
		}
		s.index(event)
		if event.Sequence >= s.nextSeq {
			s.nextSeq = event.Sequence + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("skipped unparsable event log lines", slog.Int("count", skipped), slog.String("path", s.path))
	}
	if len(s.events) > 0 {
		s.logger.Info("event log replayed", slog.Int("events", len(s.events)), slog.String("path", s.path))
	}
	return nil
}

// Append validates the event, assigns it the next sequence number and the
// ingestion timestamp, and makes it visible to queries. Appends are atomic
// with respect to each other; a failed persistence write degrades the store
// to memory-only for that event but never fails the append itself.
func (s *EventStore) Append(event models.LogEvent) (uint64, error) {
	if strings.TrimSpace(event.CorrelationID) == "" {
		return 0, fmt.Errorf("%w: empty correlation_id", ErrMalformedEvent)
	}
	if strings.TrimSpace(event.Service) == "" {
		return 0, fmt.Errorf("%w: empty service", ErrMalformedEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event.Sequence = s.nextSeq
	s.nextSeq++
	event.Timestamp = time.Now().UTC()
	s.index(event)

	if s.file != nil {
		if err := s.writeLine(event); err != nil {
			s.degraded = true
			s.logger.Warn("event persistence failed, continuing in memory",
				slog.Uint64("sequence", event.Sequence), slog.Any("error", err))
		} else {
			s.degraded = false
		}
	}
	return event.Sequence, nil
}

// index must be called with the write lock held (or during single-threaded replay).
func (s *EventStore) index(event models.LogEvent) {
	s.events = append(s.events, event)
	s.byCorrelation[event.CorrelationID] = append(s.byCorrelation[event.CorrelationID], len(s.events)-1)
	s.services[event.Service] = struct{}{}
	s.correlationIDs[event.CorrelationID] = struct{}{}
}

func (s *EventStore) writeLine(event models.LogEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// QueryByCorrelationID returns the events for one correlation id in sequence
// order. Unknown ids yield an empty slice, not an error.
func (s *EventStore) QueryByCorrelationID(id string) []models.LogEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.byCorrelation[id]
	events := make([]models.LogEvent, 0, len(indexes))
	for _, i := range indexes {
		events = append(events, s.events[i])
	}
	return events
}

// Search returns all events matching the filter, in sequence order.
func (s *EventStore) Search(filter Filter) []models.LogEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.LogEvent, 0)
	for _, event := range s.events {
		if filter.CorrelationID != "" && event.CorrelationID != filter.CorrelationID {
			continue
		}
		if filter.Service != "" && event.Service != filter.Service {
			continue
		}
		if filter.UserID != "" && payloadString(event.Payload, "user_id") != filter.UserID {
			continue
		}
		results = append(results, event)
	}
	return results
}

// CorrelationIDs returns the sorted set of ingested correlation ids.
func (s *EventStore) CorrelationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.correlationIDs))
	for id := range s.correlationIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the current aggregate counts.
func (s *EventStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]string, 0, len(s.services))
	for service := range s.services {
		services = append(services, service)
	}
	sort.Strings(services)
	return Stats{
		TotalEvents:          len(s.events),
		UniqueServices:       len(s.services),
		UniqueCorrelationIDs: len(s.correlationIDs),
		Services:             services,
	}
}

// Degraded reports whether the most recent persistence write failed.
func (s *EventStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Clear drops all ingested events and truncates the persistence file.
func (s *EventStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.byCorrelation = make(map[string][]int)
	s.services = make(map[string]struct{})
	s.correlationIDs = make(map[string]struct{})
	s.nextSeq = 1

	if s.file == nil {
		return nil
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close flushes and closes the persistence file, if any.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("sync event log: %w", err)
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
