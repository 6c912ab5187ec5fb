package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Edge identifies a directed caller -> callee dependency.
type Edge struct {
	From string
	To   string
}

// Endpoint is one observed (HTTP method, path) pair.
type Endpoint struct {
	Method string
	Path   string
}

// Snapshot is the canonical representation of a discovered architecture:
// service set, weighted dependency edges, and per-service endpoint catalog.
// Snapshots are constructed once and never mutated after persistence.
type Snapshot struct {
	Services     map[string]struct{}
	Dependencies map[Edge]int
	Endpoints    map[string]map[Endpoint]struct{}
	CapturedAt   time.Time
}

// NewSnapshot returns an empty snapshot captured at the given time.
func NewSnapshot(capturedAt time.Time) *Snapshot {
	return &Snapshot{
		Services:     make(map[string]struct{}),
		Dependencies: make(map[Edge]int),
		Endpoints:    make(map[string]map[Endpoint]struct{}),
		CapturedAt:   capturedAt,
	}
}

// AddService records a service name.
func (s *Snapshot) AddService(name string) {
	if name == "" {
		return
	}
	s.Services[name] = struct{}{}
}

// AddDependency increments the call count for a caller -> callee edge by n.
// Both endpoints are added to the service set to keep the superset invariant.
func (s *Snapshot) AddDependency(from, to string, n int) {
	if from == "" || to == "" || n <= 0 {
		return
	}
	s.AddService(from)
	s.AddService(to)
	s.Dependencies[Edge{From: from, To: to}] += n
}

// AddEndpoint records an observed (method, path) pair for a service.
func (s *Snapshot) AddEndpoint(service, method, path string) {
	if service == "" || path == "" {
		return
	}
	s.AddService(service)
	eps, ok := s.Endpoints[service]
	if !ok {
		eps = make(map[Endpoint]struct{})
		s.Endpoints[service] = eps
	}
	eps[Endpoint{Method: method, Path: path}] = struct{}{}
}

// ServiceNames returns the sorted service set.
func (s *Snapshot) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two snapshots describe the exact same architecture:
// services, dependency edges including call counts, and endpoint catalogs.
// Capture timestamps are not part of the comparison.
func Equal(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Services) != len(b.Services) || len(a.Dependencies) != len(b.Dependencies) {
		return false
	}
	for name := range a.Services {
		if _, ok := b.Services[name]; !ok {
			return false
		}
	}
	for edge, count := range a.Dependencies {
		if b.Dependencies[edge] != count {
			return false
		}
	}
	if len(a.Endpoints) != len(b.Endpoints) {
		return false
	}
	for service, eps := range a.Endpoints {
		other, ok := b.Endpoints[service]
		if !ok || len(other) != len(eps) {
			return false
		}
		for ep := range eps {
			if _, ok := other[ep]; !ok {
				return false
			}
		}
	}
	return true
}

// Hash returns a stable hex digest over the canonical wire form, excluding
// the capture timestamp, so identical topologies hash identically.
func (s *Snapshot) Hash() string {
	wire := s.wire()
	wire.CapturedAt = time.Time{}
	data, err := json.Marshal(wire)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Dependency is the wire form of a weighted dependency edge.
type Dependency struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// ServiceEndpoint is the wire form of one endpoint catalog entry.
type ServiceEndpoint struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Path    string `json:"path"`
}

type snapshotWire struct {
	Services     []string          `json:"services"`
	Dependencies []Dependency      `json:"dependencies"`
	Endpoints    []ServiceEndpoint `json:"endpoints"`
	CapturedAt   time.Time         `json:"captured_at"`
}

func (s *Snapshot) wire() snapshotWire {
	wire := snapshotWire{
		Services:     s.ServiceNames(),
		Dependencies: make([]Dependency, 0, len(s.Dependencies)),
		Endpoints:    make([]ServiceEndpoint, 0),
		CapturedAt:   s.CapturedAt,
	}
	for edge, count := range s.Dependencies {
		wire.Dependencies = append(wire.Dependencies, Dependency{From: edge.From, To: edge.To, Count: count})
	}
	sortDependencies(wire.Dependencies)
	for service, eps := range s.Endpoints {
		for ep := range eps {
			wire.Endpoints = append(wire.Endpoints, ServiceEndpoint{Service: service, Method: ep.Method, Path: ep.Path})
		}
	}
	sortEndpoints(wire.Endpoints)
	return wire
}

// MarshalJSON emits the canonical wire shape with sorted members.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// UnmarshalJSON parses the wire shape and restores the superset invariant:
// services referenced by dependencies or endpoints join the service set.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	restored := NewSnapshot(wire.CapturedAt)
	for _, name := range wire.Services {
		restored.AddService(name)
	}
	for _, dep := range wire.Dependencies {
		if dep.Count < 1 {
			return fmt.Errorf("dependency %s -> %s has call count %d, want >= 1", dep.From, dep.To, dep.Count)
		}
		if dep.From == "" || dep.To == "" {
			return fmt.Errorf("dependency with empty endpoint: %q -> %q", dep.From, dep.To)
		}
		restored.AddDependency(dep.From, dep.To, dep.Count)
	}
	for _, ep := range wire.Endpoints {
		if ep.Service == "" {
			return fmt.Errorf("endpoint %s %s has empty service", ep.Method, ep.Path)
		}
		restored.AddEndpoint(ep.Service, ep.Method, ep.Path)
	}
	*s = *restored
	return nil
}

func sortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].From != deps[j].From {
			return deps[i].From < deps[j].From
		}
		return deps[i].To < deps[j].To
	})
}

func sortEndpoints(eps []ServiceEndpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Service != eps[j].Service {
			return eps[i].Service < eps[j].Service
		}
		if eps[i].Path != eps[j].Path {
			return eps[i].Path < eps[j].Path
		}
		return eps[i].Method < eps[j].Method
	})
}
