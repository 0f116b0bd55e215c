package scan

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// genAcyclicRegistry builds a random registry whose dependency edges only
// ever point from a node to an earlier-indexed node, so the graph is
// acyclic by construction; Plan() must still discover that itself.
func genAcyclicRegistry(rt *rapid.T) []*CheckDefinition {
	n := rapid.IntRange(1, 12).Draw(rt, "numChecks")
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("check-%d", i)
	}

	defs := make([]*CheckDefinition, n)
	for i := range ids {
		var deps []string
		if i > 0 {
			numDeps := rapid.IntRange(0, i).Draw(rt, fmt.Sprintf("numDeps_%d", i))
			seen := make(map[int]struct{}, numDeps)
			for len(seen) < numDeps {
				j := rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("dep_%d_%d", i, len(seen)))
				if _, ok := seen[j]; ok {
					continue
				}
				seen[j] = struct{}{}
				deps = append(deps, ids[j])
			}
		}
		defs[i] = def(ids[i], deps...)
	}
	return defs
}

// TestProperty_Registry_PlanRespectsTopologicalOrder validates spec
// invariant 6: every check lands in exactly one batch, and every one of
// its declared dependencies lands in a strictly earlier batch.
func TestProperty_Registry_PlanRespectsTopologicalOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		defs := genAcyclicRegistry(rt)

		plan, err := NewRegistry(defs).Plan()
		if err != nil {
			rt.Fatalf("Plan() returned an error for an acyclic graph: %v", err)
		}

		batchOf := make(map[string]int)
		for batchIdx, batch := range plan.Batches {
			for _, check := range batch {
				if _, already := batchOf[check.Metadata.ID]; already {
					rt.Fatalf("check %q appears in more than one batch", check.Metadata.ID)
				}
				batchOf[check.Metadata.ID] = batchIdx
			}
		}

		if len(batchOf) != len(defs) {
			rt.Fatalf("expected every one of %d checks to be scheduled, got %d", len(defs), len(batchOf))
		}

		for _, d := range defs {
			myBatch := batchOf[d.Metadata.ID]
			for _, depID := range d.Metadata.DependsOn {
				depBatch, ok := batchOf[depID]
				if !ok {
					rt.Fatalf("dependency %q of %q was never scheduled", depID, d.Metadata.ID)
				}
				if depBatch >= myBatch {
					rt.Fatalf("dependency %q (batch %d) must precede %q (batch %d)", depID, depBatch, d.Metadata.ID, myBatch)
				}
			}
		}
	})
}

// TestProperty_Registry_PlanIsDeterministic validates that planning the
// same registry twice always yields the same batch partition (boundary
// case: Plan has no hidden randomness or map-iteration-order dependence).
func TestProperty_Registry_PlanIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		defs := genAcyclicRegistry(rt)

		planA, err := NewRegistry(defs).Plan()
		if err != nil {
			rt.Fatalf("Plan() error: %v", err)
		}
		planB, err := NewRegistry(defs).Plan()
		if err != nil {
			rt.Fatalf("Plan() error: %v", err)
		}

		if len(planA.Batches) != len(planB.Batches) {
			rt.Fatalf("batch count differs across runs: %d vs %d", len(planA.Batches), len(planB.Batches))
		}
		for i := range planA.Batches {
			if len(planA.Batches[i]) != len(planB.Batches[i]) {
				rt.Fatalf("batch %d size differs across runs: %d vs %d", i, len(planA.Batches[i]), len(planB.Batches[i]))
			}
			for j := range planA.Batches[i] {
				if planA.Batches[i][j].Metadata.ID != planB.Batches[i][j].Metadata.ID {
					rt.Fatalf("batch %d ordering differs across runs at position %d", i, j)
				}
			}
		}
	})
}
