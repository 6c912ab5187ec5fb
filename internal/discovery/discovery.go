package discovery

import (
	"log/slog"
	"strings"
	"time"

	"github.com/archscope/archscope/internal/models"
	"github.com/archscope/archscope/internal/topology"
)

// Discoverer builds a topology snapshot from aggregated trace data. The
// rule-based implementation below is one provider; AI-assisted discovery
// running outside this process satisfies the same contract by submitting
// its snapshot through the API.
type Discoverer interface {
	Discover() (*topology.Snapshot, error)
}

// EventSource is the event store surface discovery reads from.
type EventSource interface {
	CorrelationIDs() []string
	QueryByCorrelationID(id string) []models.LogEvent
}

// TraceDiscoverer infers a topology from correlation-id traces: consecutive
// events from distinct services imply a caller -> callee edge, and payload
// method/path fields populate the endpoint catalog.
type TraceDiscoverer struct {
	source EventSource
	logger *slog.Logger
}

// NewTraceDiscoverer constructs a rule-based discoverer over the store.
func NewTraceDiscoverer(source EventSource, logger *slog.Logger) *TraceDiscoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceDiscoverer{source: source, logger: logger}
}

// Discover walks every ingested trace and aggregates services, dependency
// edges with traversal counts, and observed endpoints into one snapshot.
func (d *TraceDiscoverer) Discover() (*topology.Snapshot, error) {
	snapshot := topology.NewSnapshot(time.Now().UTC())

	ids := d.source.CorrelationIDs()
	for _, id := range ids {
		events := d.source.QueryByCorrelationID(id)
		previous := ""
		for _, event := range events {
			snapshot.AddService(event.Service)

			if method, path, ok := endpointFromPayload(event.Payload); ok {
				snapshot.AddEndpoint(event.Service, method, path)
			}

			if previous != "" && previous != event.Service {
				snapshot.AddDependency(previous, event.Service, 1)
			}
			previous = event.Service
		}
	}

	d.logger.Debug("topology discovered",
		slog.Int("journeys", len(ids)),
		slog.Int("services", len(snapshot.Services)),
		slog.Int("dependencies", len(snapshot.Dependencies)))
	return snapshot, nil
}

// endpointFromPayload reads an endpoint from explicit method/path keys, or
// from a combined "endpoint" value of the form "GET /cart".
func endpointFromPayload(payload map[string]any) (method, path string, ok bool) {
	if payload == nil {
		return "", "", false
	}
	method, _ = payload["method"].(string)
	path, _ = payload["path"].(string)
	if path != "" {
		return strings.ToUpper(method), path, true
	}

	combined, _ := payload["endpoint"].(string)
	if combined == "" {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSpace(combined), " ", 2)
	if len(parts) == 2 {
		return strings.ToUpper(parts[0]), parts[1], true
	}
	return "", parts[0], true
}
