package stagegraph

import (
	"sort"

	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
)

// Resolve performs a topological sort of the declared dependencies and returns
// ordered batches: every stage in a batch has all its dependencies satisfied
// by earlier batches. A cyclic dependency is a configuration error reported
// here, never at runtime.
//
// requested narrows execution to a stage subset; dependencies of requested
// stages are pulled in transitively. An empty requested set selects all
// stages.
func Resolve(pipeline string, stages []Stage, requested []string) ([]Batch, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}

	// Select requested stages plus transitive dependencies.
	selected := make(map[string]bool)
	var include func(name string) error
	include = func(name string) error {
		if selected[name] {
			return nil
		}
		s, ok := byName[name]
		if !ok {
			return derrors.UnknownDependency(pipeline, "", name)
		}
		selected[name] = true
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return derrors.UnknownDependency(pipeline, s.Name, dep)
			}
			if err := include(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if len(requested) == 0 {
		for _, s := range stages {
			if err := include(s.Name); err != nil {
				return nil, err
			}
		}
	} else {
		for _, name := range requested {
			if err := include(name); err != nil {
				return nil, err
			}
		}
	}

	// Kahn level batching over the selected subgraph.
	inDegree := make(map[string]int, len(selected))
	dependents := make(map[string][]string, len(selected))
	for name := range selected {
		s := byName[name]
		for _, dep := range s.DependsOn {
			if selected[dep] {
				inDegree[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	remaining := len(selected)
	ready := make([]string, 0, remaining)
	for name := range selected {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	var batches []Batch
	for len(ready) > 0 {
		// Deterministic order within a batch.
		sort.Strings(ready)
		batch := make(Batch, 0, len(ready))
		var next []string
		for _, name := range ready {
			batch = append(batch, byName[name])
			remaining--
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		batches = append(batches, batch)
		ready = next
	}

	if remaining > 0 {
		return nil, derrors.CyclicGraph(pipeline, findCycleNode(byName, selected))
	}

	return batches, nil
}

// findCycleNode names one stage involved in a cycle using depth-first search
// with three node sets: permanent (fully visited, known safe), temporary
// (current recursion stack), unvisited.
func findCycleNode(byName map[string]Stage, selected map[string]bool) string {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var cycleNode string
	var visit func(name string) bool
	visit = func(name string) bool {
		if permanent[name] {
			return false
		}
		if temporary[name] {
			// Hit a node already in the recursion stack: cycle found.
			cycleNode = name
			return true
		}
		temporary[name] = true
		for _, dep := range byName[name].DependsOn {
			if selected[dep] && visit(dep) {
				return true
			}
		}
		delete(temporary, name)
		permanent[name] = true
		return false
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !permanent[name] && visit(name) {
			return cycleNode
		}
	}
	return ""
}
