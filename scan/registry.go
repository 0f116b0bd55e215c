package scan

import "sort"

// Batch is a set of checks with no remaining unmet dependencies, executed
// concurrently by the Batch Executor.
type Batch []*CheckDefinition

// Plan is the stable, scan-lifetime execution plan produced by the
// registry: a topological layering of every registered check.
type Plan struct {
	Batches []Batch
	ByID    map[string]*CheckDefinition
}

// Registry validates a set of check declarations and computes their
// execution plan (§4.A).
type Registry struct {
	checks []*CheckDefinition
}

// NewRegistry builds a registry from a list of check declarations. It does
// not validate — call Plan to validate and compute batches.
func NewRegistry(checks []*CheckDefinition) *Registry {
	return &Registry{checks: checks}
}

// Plan validates the dependsOn graph and computes batches via Kahn-style
// topological batching: batch 0 is every node with in-degree 0, remove
// them, batch 1 is the new zero-in-degree nodes, and so on. A missing
// dependency is UNKNOWN_DEPENDENCY; a residual cycle is
// CYCLIC_DEPENDENCIES.
func (r *Registry) Plan() (*Plan, error) {
	byID := make(map[string]*CheckDefinition, len(r.checks))
	for _, c := range r.checks {
		byID[c.Metadata.ID] = c
	}

	// edge dep -> dependents; inDegree[check] = len(dependsOn)
	dependents := make(map[string][]string, len(r.checks))
	inDegree := make(map[string]int, len(r.checks))

	for _, c := range r.checks {
		id := c.Metadata.ID
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range c.Metadata.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, NewScanRunnableError(ErrCodeUnknownDependency,
					"check %q depends on unregistered check %q", id, dep)
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	remaining := len(r.checks)
	var batches []Batch

	for remaining > 0 {
		var zero []string
		for id, deg := range inDegree {
			if deg == 0 {
				zero = append(zero, id)
			}
		}
		if len(zero) == 0 {
			return nil, NewScanRunnableError(ErrCodeCyclicDependencies,
				"dependency graph has a cycle among %d remaining checks", remaining)
		}

		// Registration order within a batch for deterministic output;
		// actual execution order within a batch is unspecified (§4.A).
		sort.Slice(zero, func(i, j int) bool {
			return registrationIndex(r.checks, zero[i]) < registrationIndex(r.checks, zero[j])
		})

		batch := make(Batch, 0, len(zero))
		for _, id := range zero {
			batch = append(batch, byID[id])
			delete(inDegree, id)
		}
		batches = append(batches, batch)
		remaining -= len(zero)

		for _, id := range zero {
			for _, dep := range dependents[id] {
				inDegree[dep]--
			}
		}
	}

	return &Plan{Batches: batches, ByID: byID}, nil
}

func registrationIndex(checks []*CheckDefinition, id string) int {
	for i, c := range checks {
		if c.Metadata.ID == id {
			return i
		}
	}
	return len(checks)
}
