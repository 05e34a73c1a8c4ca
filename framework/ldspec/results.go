package ldspec

import (
	"fmt"
	"sync"
	"time"

	"github.com/launchdarkly/spec-harness/framework"
)

type Totals struct {
	Passed       int
	Failed       int
	Errored      int
	Skipped      int
	Incomplete   int
	HookFailures int
}

// Cases is the number of cases counted, whatever their status.
func (t Totals) Cases() int {
	return t.Passed + t.Failed + t.Errored + t.Skipped + t.Incomplete
}

func (t Totals) String() string {
	return fmt.Sprintf("%d passed, %d failed, %d error, %d skipped, %d incomplete, %d hook failure(s)",
		t.Passed, t.Failed, t.Errored, t.Skipped, t.Incomplete, t.HookFailures)
}

func (t *Totals) add(s Status) {
	switch s {
	case StatusPassed:
		t.Passed++
	case StatusFailed:
		t.Failed++
	case StatusErrored:
		t.Errored++
	case StatusSkipped:
		t.Skipped++
	case StatusIncomplete:
		t.Incomplete++
	}
}

type CaseResult struct {
	ID         CaseID
	Node       NodeID
	Path       Path
	Status     Status
	Elapsed    time.Duration
	SkipReason string
	Assertions []Assertion
	Failures   []Failure
	Output     framework.CapturedOutput
}

// FailedAssertions returns only the assertions that did not pass.
func (r CaseResult) FailedAssertions() []Assertion {
	var ret []Assertion
	for _, a := range r.Assertions {
		if !a.Success {
			ret = append(ret, a)
		}
	}
	return ret
}

type HookFailureResult struct {
	Node    NodeID
	Path    Path
	Failure Failure
}

type Results struct {
	Totals       Totals
	Cases        []CaseResult
	Failures     []CaseResult
	HookFailures []HookFailureResult
}

// OK is the overall outcome: no case failed or errored, and no hook failed.
func (r Results) OK() bool {
	return r.Totals.Failed == 0 && r.Totals.Errored == 0 && r.Totals.HookFailures == 0
}

func resultFor(c *Case) CaseResult {
	return CaseResult{
		ID:         c.id,
		Node:       c.node.id,
		Path:       c.Path(),
		Status:     c.Status(),
		Elapsed:    c.Elapsed(),
		SkipReason: c.SkipReason(),
		Assertions: c.Assertions(),
		Failures:   c.Failures(),
		Output:     c.Output(),
	}
}

// ResultsSink accumulates Results. Each case is counted once no matter how many times it is
// reported, and each hook failure on a node is counted once no matter how many nil-case
// events are reported for it.
type ResultsSink struct {
	lock      sync.Mutex
	seenCases map[CaseID]bool
	seenHooks map[NodeID]int
	results   Results
}

func NewResultsSink() *ResultsSink {
	return &ResultsSink{seenCases: make(map[CaseID]bool), seenHooks: make(map[NodeID]int)}
}

func (r *ResultsSink) TrackSpec(*Node) {}

func (r *ResultsSink) SpecFinished(*Node) {}

func (r *ResultsSink) CaseFinished(n *Node, c *Case) {
	if c == nil {
		failures := n.HookFailures()
		r.lock.Lock()
		defer r.lock.Unlock()
		for _, f := range failures[r.seenHooks[n.id]:] {
			r.results.HookFailures = append(r.results.HookFailures,
				HookFailureResult{Node: n.id, Path: n.Path(), Failure: f})
			r.results.Totals.HookFailures++
		}
		r.seenHooks[n.id] = len(failures)
		return
	}
	result := resultFor(c)
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.seenCases[c.id] {
		return
	}
	r.seenCases[c.id] = true
	r.results.Cases = append(r.results.Cases, result)
	r.results.Totals.add(result.Status)
	if result.Status == StatusFailed || result.Status == StatusErrored {
		r.results.Failures = append(r.results.Failures, result)
	}
}

// Results returns a copy of what has been accumulated so far.
func (r *ResultsSink) Results() Results {
	r.lock.Lock()
	defer r.lock.Unlock()
	return Results{
		Totals:       r.results.Totals,
		Cases:        append([]CaseResult(nil), r.results.Cases...),
		Failures:     append([]CaseResult(nil), r.results.Failures...),
		HookFailures: append([]HookFailureResult(nil), r.results.HookFailures...),
	}
}
