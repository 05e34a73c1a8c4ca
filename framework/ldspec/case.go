package ldspec

import (
	"strings"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework"
)

// CaseID is the opaque identity of a case. It is stable across processes that build the same
// tree.
type CaseID string

// Assertion is the record of one expectation evaluated in a case body. TargetText and
// ExpectedText are what reporters show. Target and Expected hold the live values, and are only
// available in the process that ran the case.
type Assertion struct {
	Target       interface{}
	Expected     interface{}
	TargetText   string
	ExpectedText string
	Comparator   string
	Success      bool
	Required     bool
	Message      string
	Location     string
}

// Failure is a traceback attached to a case, labeled with the slot it came from.
type Failure struct {
	Slot      Slot
	Traceback TracebackRecord
}

// Outcome is everything a case execution produced. It is what crosses the process boundary in
// parallel mode.
type Outcome struct {
	Case       CaseID
	Node       NodeID
	Start      time.Time
	End        time.Time
	Assertions []Assertion
	Failures   []Failure
	Output     framework.CapturedOutput
}

// Case is a single executable test unit. Its skip and incomplete flags are fixed when the tree
// is built; everything else is recorded while it runs.
type Case struct {
	id         CaseID
	node       *Node
	template   *CaseTemplate
	name       string
	metadata   Metadata
	args       Args
	dataDriven bool

	lock       sync.Mutex
	start      time.Time
	end        time.Time
	assertions []Assertion
	failures   []Failure
	output     framework.CapturedOutput
	completed  bool
}

func (c *Case) ID() CaseID { return c.id }

func (c *Case) Name() string { return c.name }

// PrettyName is the case name with underscores shown as spaces.
func (c *Case) PrettyName() string { return strings.ReplaceAll(c.name, "_", " ") }

// Node returns the node that owns this case.
func (c *Case) Node() *Node { return c.node }

func (c *Case) Doc() string { return c.template.Doc }

// TemplateName is the name of the template the case was built from. For cases that are not
// data-driven it is the same as Name.
func (c *Case) TemplateName() string { return c.template.Name }

func (c *Case) Path() Path { return c.node.Path().Plus(c.name) }

// Metadata returns the merged metadata of the node, the template, and the dataset entry.
func (c *Case) Metadata() Metadata { return c.metadata }

// Args returns the resolved arguments, including template defaults.
func (c *Case) Args() Args { return c.args }

// Arg returns one resolved argument, or ldvalue.Null() if there is no such argument.
func (c *Case) Arg(name string) ldvalue.Value {
	if v, ok := c.args[name]; ok {
		return v
	}
	return ldvalue.Null()
}

// DataDriven is true if the case was produced by expanding a dataset.
func (c *Case) DataDriven() bool { return c.dataDriven }

func (c *Case) Skipped() bool { return c.template.Skip }

func (c *Case) SkipReason() string { return c.template.SkipReason }

func (c *Case) Incomplete() bool { return c.template.Incomplete }

// Status computes the final status. A failed assertion wins over an attached failure, which
// wins over the skip and incomplete flags.
func (c *Case) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, a := range c.assertions {
		if !a.Success {
			return StatusFailed
		}
	}
	switch {
	case len(c.failures) > 0:
		return StatusErrored
	case c.template.Skip:
		return StatusSkipped
	case c.template.Incomplete:
		return StatusIncomplete
	default:
		return StatusPassed
	}
}

// Elapsed is end minus start, floored at zero.
func (c *Case) Elapsed() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	if d := c.end.Sub(c.start); d > 0 {
		return d
	}
	return 0
}

func (c *Case) StartTime() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.start
}

func (c *Case) Assertions() []Assertion {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Assertion(nil), c.assertions...)
}

func (c *Case) Failures() []Failure {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Failure(nil), c.failures...)
}

// Output is the debug output captured while the case ran.
func (c *Case) Output() framework.CapturedOutput {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.output
}

// Completed is true once an outcome has been recorded for the case.
func (c *Case) Completed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.completed
}

// Outcome returns a snapshot of everything recorded for the case.
func (c *Case) Outcome() Outcome {
	c.lock.Lock()
	defer c.lock.Unlock()
	return Outcome{
		Case:       c.id,
		Node:       c.node.id,
		Start:      c.start,
		End:        c.end,
		Assertions: append([]Assertion(nil), c.assertions...),
		Failures:   append([]Failure(nil), c.failures...),
		Output:     c.output,
	}
}

// Apply records an outcome produced elsewhere, such as in a worker process, and marks the case
// completed. Only the first call has any effect; it returns false for every later one.
func (c *Case) Apply(o Outcome) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.completed {
		return false
	}
	c.start, c.end = o.Start, o.End
	c.assertions = append([]Assertion(nil), o.Assertions...)
	c.failures = append([]Failure(nil), o.Failures...)
	c.output = o.Output
	c.completed = true
	return true
}

// Fail attaches a failure to a case that could not be run at all, and marks it completed. It
// returns false if the case was already completed.
func (c *Case) Fail(f Failure) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.completed {
		return false
	}
	c.failures = append(c.failures, f)
	c.completed = true
	return true
}

func (c *Case) markCompleted() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.completed {
		return false
	}
	c.completed = true
	return true
}

func (c *Case) recordAssertion(a Assertion) {
	c.lock.Lock()
	c.assertions = append(c.assertions, a)
	c.lock.Unlock()
}

func (c *Case) attachFailure(f Failure) {
	c.lock.Lock()
	c.failures = append(c.failures, f)
	c.lock.Unlock()
}

func (c *Case) setTimes(start, end time.Time) {
	c.lock.Lock()
	c.start, c.end = start, end
	c.lock.Unlock()
}

func (c *Case) setOutput(output framework.CapturedOutput) {
	c.lock.Lock()
	c.output = output
	c.lock.Unlock()
}

func (c *Case) hasFailedAssertion() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, a := range c.assertions {
		if !a.Success {
			return true
		}
	}
	return false
}
