package ldspec

import (
	"fmt"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/matchers"
)

// Scope is what hooks receive. It gives access to the node and to values that hooks share with
// the cases and descendant nodes that run after them.
type Scope struct {
	node *Node
}

// NewScope returns the scope for a node.
func NewScope(n *Node) *Scope { return &Scope{node: n} }

func (s *Scope) Node() *Node { return s.node }

// Set stores a value on this node, usually from before_all or before_each.
func (s *Scope) Set(key string, value interface{}) {
	s.node.valuesLock.Lock()
	s.node.values[key] = value
	s.node.valuesLock.Unlock()
}

// Get looks a value up on this node, then on each ancestor in turn.
func (s *Scope) Get(key string) (interface{}, bool) {
	for n := s.node; n != nil; n = n.parent {
		n.valuesLock.RLock()
		v, ok := n.values[key]
		n.valuesLock.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// DebugLogger writes to the node's captured output. While cases are running, see
// framework.CapturingLogger for where the messages end up.
func (s *Scope) DebugLogger() framework.Logger { return &s.node.debugLogger }

// requiredFailure is the panic value used to unwind a case body after a required assertion
// fails. The classifier treats it as a normal return.
type requiredFailure struct{}

// T is the handle passed to a case body. Assertions made through it are attached to the case
// being run. It implements assert.TestingT and require.TestingT, so testify can be used in
// case bodies.
type T struct {
	c           *Case
	scope       *Scope
	debugLogger framework.CapturingLogger
	helperFns   []string
}

func newT(c *Case, scope *Scope) *T {
	t := &T{c: c, scope: scope}
	scope.node.debugLogger.Attach(&t.debugLogger)
	return t
}

func (t *T) finish() {
	t.scope.node.debugLogger.Detach(&t.debugLogger)
	t.c.setOutput(t.debugLogger.Output())
}

func (t *T) Name() string { return t.c.name }

func (t *T) ID() CaseID { return t.c.id }

func (t *T) Case() *Case { return t.c }

func (t *T) Scope() *Scope { return t.scope }

// Args returns the case's resolved arguments.
func (t *T) Args() Args { return t.c.args }

// Arg returns one resolved argument, or a null value.
func (t *T) Arg(name string) ldvalue.Value { return t.c.Arg(name) }

// Expectation is an assertion waiting for its matcher.
type Expectation struct {
	t        *T
	target   interface{}
	required bool
}

// Expect starts an optional assertion. If it fails, the failure is recorded and the body
// continues.
func (t *T) Expect(target interface{}) Expectation {
	return Expectation{t: t, target: target}
}

// Require starts a required assertion. If it fails, the failure is recorded and the rest of
// the case body is skipped.
func (t *T) Require(target interface{}) Expectation {
	return Expectation{t: t, target: target, required: true}
}

// To applies a matcher and records the result. It returns true if the matcher passed.
func (e Expectation) To(m matchers.Matcher) bool {
	pass, desc := m.Test(e.target)
	a := Assertion{
		Target:     e.target,
		TargetText: m.Describe(e.target),
		Comparator: m.Comparator(),
		Success:    pass,
		Required:   e.required,
		Message:    desc,
		Location:   callerLocation(e.t.helperFns),
	}
	if expected, ok := m.Expected(); ok {
		a.Expected = expected
		a.ExpectedText = m.Describe(expected)
	}
	e.t.c.recordAssertion(a)
	if !pass && e.required {
		panic(requiredFailure{})
	}
	return pass
}

// Errorf records a failed optional assertion. It is the method testify's assert package calls.
func (t *T) Errorf(format string, args ...interface{}) {
	t.c.recordAssertion(Assertion{
		Comparator: "errorf",
		Success:    false,
		Message:    cleanMessage(fmt.Sprintf(format, args...)),
		Location:   callerLocation(t.helperFns),
	})
}

// FailNow ends the case body. It is the method testify's require package calls after Errorf.
// If nothing has failed yet, a failure is recorded so the case cannot pass.
func (t *T) FailNow() {
	if !t.c.hasFailedAssertion() {
		t.c.recordAssertion(Assertion{
			Comparator: "fail now",
			Message:    "case failed with no failure message",
			Location:   callerLocation(t.helperFns),
		})
	}
	panic(requiredFailure{})
}

// Helper marks the calling function as a helper, so assertion locations point at its caller.
func (t *T) Helper() {
	if fn, ok := callerFunctionName(); ok {
		t.helperFns = append(t.helperFns, fn)
	}
}

// Debug writes a message to the case's captured output.
func (t *T) Debug(message string, args ...interface{}) {
	t.debugLogger.Printf(message, args...)
}

// DebugLogger returns a Logger for the case's captured output. Output already written to the
// node before the case started is included at the beginning.
func (t *T) DebugLogger() framework.Logger { return &t.debugLogger }
