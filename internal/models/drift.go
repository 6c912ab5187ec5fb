package models

import (
	"time"

	"github.com/archscope/archscope/internal/topology"
)

// Severity captures drift impact levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// DriftReport is the immutable outcome of comparing two topology snapshots.
// Previous and Current reference the compared snapshots by history key.
type DriftReport struct {
	ID                  string                     `json:"id"`
	PreviousRef         string                     `json:"previous_ref"`
	CurrentRef          string                     `json:"current_ref"`
	AddedServices       []string                   `json:"added_services"`
	RemovedServices     []string                   `json:"removed_services"`
	AddedDependencies   []topology.Dependency      `json:"added_dependencies"`
	RemovedDependencies []topology.Dependency      `json:"removed_dependencies"`
	ChangedCallCounts   []topology.CallCountChange `json:"changed_call_counts"`
	AddedEndpoints      []topology.ServiceEndpoint `json:"added_endpoints,omitempty"`
	RemovedEndpoints    []topology.ServiceEndpoint `json:"removed_endpoints,omitempty"`
	Score               int                        `json:"score"`
	Severity            Severity                   `json:"severity"`
	ComparedAt          time.Time                  `json:"compared_at"`
}
