package trace

import "github.com/archscope/archscope/internal/models"

// EventSource is the read surface of the event store that reconstruction needs.
type EventSource interface {
	QueryByCorrelationID(id string) []models.LogEvent
}

// Reconstructor assembles the causal flow for a correlation id. It is a pure
// read over already-ingested data: querying while related requests are still
// in flight simply yields a partial trace.
type Reconstructor struct {
	source EventSource
}

// NewReconstructor constructs a Reconstructor over the given source.
func NewReconstructor(source EventSource) *Reconstructor {
	return &Reconstructor{source: source}
}

// Reconstruct returns the ordered event sequence for a correlation id and
// the participating services in order of first appearance. Unknown ids
// yield a trace with an empty event sequence and empty service set.
func (r *Reconstructor) Reconstruct(correlationID string) models.Trace {
	events := r.source.QueryByCorrelationID(correlationID)

	services := make([]string, 0)
	seen := make(map[string]struct{})
	for _, event := range events {
		if _, ok := seen[event.Service]; ok {
			continue
		}
		seen[event.Service] = struct{}{}
		services = append(services, event.Service)
	}

	return models.Trace{
		CorrelationID:    correlationID,
		Events:           events,
		ServicesInvolved: services,
	}
}
