package ldspec

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gate is a concurrency bound shared by a node and every descendant that does not declare its
// own override.
type gate struct {
	limit int
	sem   *semaphore.Weighted
}

func newGate(limit int) *gate {
	if limit < 1 {
		limit = 1
	}
	return &gate{limit: limit, sem: semaphore.NewWeighted(int64(limit))}
}

func (g *gate) acquire(ctx context.Context) error { return g.sem.Acquire(ctx, 1) }

func (g *gate) release() { g.sem.Release(1) }

// gates is the pair of bounds in effect at a node: one for case execution, one for node
// setup and teardown.
type gates struct {
	cases *gate
	specs *gate
}

func newGates(limit int) gates {
	return gates{cases: newGate(limit), specs: newGate(limit)}
}

// forNode returns the gates for n: a fresh gate for each override it declares, the inherited
// ones otherwise.
func (g gates) forNode(n *Node) gates {
	ret := g
	if n.caseConcurrency.IsDefined() {
		ret.cases = newGate(n.caseConcurrency.Value())
	}
	if n.specConcurrency.IsDefined() {
		ret.specs = newGate(n.specConcurrency.Value())
	}
	return ret
}
