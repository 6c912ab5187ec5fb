package topology

import "sort"

// CallCountChange records a traffic change on an edge present in both snapshots.
type CallCountChange struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
}

// Delta is the structural difference between two snapshots. All slices are
// sorted so a delta is reproducible for the same snapshot pair.
type Delta struct {
	AddedServices       []string          `json:"added_services"`
	RemovedServices     []string          `json:"removed_services"`
	AddedDependencies   []Dependency      `json:"added_dependencies"`
	RemovedDependencies []Dependency      `json:"removed_dependencies"`
	ChangedCallCounts   []CallCountChange `json:"changed_call_counts"`
	AddedEndpoints      []ServiceEndpoint `json:"added_endpoints"`
	RemovedEndpoints    []ServiceEndpoint `json:"removed_endpoints"`
}

// Empty reports whether the delta carries no change at all.
func (d Delta) Empty() bool {
	return len(d.AddedServices) == 0 &&
		len(d.RemovedServices) == 0 &&
		len(d.AddedDependencies) == 0 &&
		len(d.RemovedDependencies) == 0 &&
		len(d.ChangedCallCounts) == 0 &&
		len(d.AddedEndpoints) == 0 &&
		len(d.RemovedEndpoints) == 0
}

// Diff computes the structural delta from baseline to current. It is a pure
// function over the two snapshots.
func Diff(baseline, current *Snapshot) Delta {
	delta := Delta{
		AddedServices:       []string{},
		RemovedServices:     []string{},
		AddedDependencies:   []Dependency{},
		RemovedDependencies: []Dependency{},
		ChangedCallCounts:   []CallCountChange{},
		AddedEndpoints:      []ServiceEndpoint{},
		RemovedEndpoints:    []ServiceEndpoint{},
	}

	for name := range current.Services {
		if _, ok := baseline.Services[name]; !ok {
			delta.AddedServices = append(delta.AddedServices, name)
		}
	}
	for name := range baseline.Services {
		if _, ok := current.Services[name]; !ok {
			delta.RemovedServices = append(delta.RemovedServices, name)
		}
	}
	sort.Strings(delta.AddedServices)
	sort.Strings(delta.RemovedServices)

	for edge, count := range current.Dependencies {
		prev, ok := baseline.Dependencies[edge]
		switch {
		case !ok:
			delta.AddedDependencies = append(delta.AddedDependencies, Dependency{From: edge.From, To: edge.To, Count: count})
		case prev != count:
			delta.ChangedCallCounts = append(delta.ChangedCallCounts, CallCountChange{From: edge.From, To: edge.To, Previous: prev, Current: count})
		}
	}
	for edge, count := range baseline.Dependencies {
		if _, ok := current.Dependencies[edge]; !ok {
			delta.RemovedDependencies = append(delta.RemovedDependencies, Dependency{From: edge.From, To: edge.To, Count: count})
		}
	}
	sortDependencies(delta.AddedDependencies)
	sortDependencies(delta.RemovedDependencies)
	sort.Slice(delta.ChangedCallCounts, func(i, j int) bool {
		if delta.ChangedCallCounts[i].From != delta.ChangedCallCounts[j].From {
			return delta.ChangedCallCounts[i].From < delta.ChangedCallCounts[j].From
		}
		return delta.ChangedCallCounts[i].To < delta.ChangedCallCounts[j].To
	})

	delta.AddedEndpoints = endpointDiff(current, baseline)
	delta.RemovedEndpoints = endpointDiff(baseline, current)

	return delta
}

// endpointDiff returns the endpoints present in a but not in b.
func endpointDiff(a, b *Snapshot) []ServiceEndpoint {
	diff := []ServiceEndpoint{}
	for service, eps := range a.Endpoints {
		other := b.Endpoints[service]
		for ep := range eps {
			if _, ok := other[ep]; !ok {
				diff = append(diff, ServiceEndpoint{Service: service, Method: ep.Method, Path: ep.Path})
			}
		}
	}
	sortEndpoints(diff)
	return diff
}
