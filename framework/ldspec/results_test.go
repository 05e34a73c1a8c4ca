package ldspec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework/matchers"
)

func TestResultsSinkCountsEachCaseOnce(t *testing.T) {
	n := buildOne(t, &Def{Name: "node", Cases: []CaseTemplate{
		passingCase("ok"),
		{Name: "bad", Body: func(t *T) { t.Expect(1).To(matchers.Equal(2)) }},
	}})
	cl := Classifier{}
	for _, c := range n.Cases() {
		ExecuteCase(cl, NewScope(n), c, false)
	}
	sink := NewResultsSink()
	for i := 0; i < 3; i++ {
		for _, c := range n.Cases() {
			sink.CaseFinished(n, c)
		}
	}
	results := sink.Results()
	assert.Equal(t, Totals{Passed: 1, Failed: 1}, results.Totals)
	require.Len(t, results.Failures, 1)
	assert.Equal(t, CaseID("node/bad"), results.Failures[0].ID)
	assert.Len(t, results.Failures[0].FailedAssertions(), 1)
	assert.Len(t, results.Cases, 2)
	assert.False(t, results.OK())
}

func TestResultsSinkCountsEachHookFailureOnce(t *testing.T) {
	n := buildOne(t, &Def{Name: "node", Cases: []CaseTemplate{passingCase("a")}})
	sink := NewResultsSink()
	sink.CaseFinished(n, nil)
	assert.Equal(t, 0, sink.Results().Totals.HookFailures)

	n.RecordHookFailure(Failure{Slot: SlotBeforeAll, Traceback: tracebackFromError(errors.New("x"), nil)})
	sink.CaseFinished(n, nil)
	sink.CaseFinished(n, nil)
	n.RecordHookFailure(Failure{Slot: SlotAfterAll, Traceback: tracebackFromError(errors.New("y"), nil)})
	sink.CaseFinished(n, nil)

	results := sink.Results()
	assert.Equal(t, 2, results.Totals.HookFailures)
	require.Len(t, results.HookFailures, 2)
	assert.Equal(t, SlotBeforeAll, results.HookFailures[0].Failure.Slot)
	assert.Equal(t, Path{"node"}, results.HookFailures[1].Path)
	assert.False(t, results.OK())
}

func TestStatusPriority(t *testing.T) {
	n := buildOne(t, &Def{Name: "node", Cases: []CaseTemplate{
		{Name: "skipped", Body: func(*T) {}, Skip: true, Incomplete: true},
		{Name: "incomplete", Body: func(*T) {}, Incomplete: true},
		passingCase("both"),
	}})
	assert.Equal(t, StatusSkipped, caseNamed(t, n, "skipped").Status())
	assert.Equal(t, StatusIncomplete, caseNamed(t, n, "incomplete").Status())

	both := caseNamed(t, n, "both")
	assert.Equal(t, StatusPassed, both.Status())
	both.attachFailure(Failure{Slot: SlotCase})
	assert.Equal(t, StatusErrored, both.Status())
	both.recordAssertion(Assertion{Success: false})
	assert.Equal(t, StatusFailed, both.Status())
}

func TestCaseApplyOnlyOnce(t *testing.T) {
	n := buildOne(t, &Def{Name: "node", Cases: []CaseTemplate{passingCase("a")}})
	c := n.Cases()[0]
	first := Outcome{Case: c.ID(), Node: n.ID(), Assertions: []Assertion{{Success: false}}}
	assert.True(t, c.Apply(first))
	assert.False(t, c.Apply(Outcome{Case: c.ID(), Node: n.ID()}))
	assert.False(t, c.Fail(Failure{Slot: SlotCase}))
	assert.True(t, c.Completed())
	assert.Equal(t, StatusFailed, c.Status())
	assert.Equal(t, c.ID(), c.Outcome().Case)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "passed", StatusPassed.String())
	assert.Equal(t, "error", StatusErrored.String())
	assert.Equal(t, "before_all error", SlotBeforeAll.String())
	slot, ok := ParseSlot("after_each")
	assert.True(t, ok)
	assert.Equal(t, SlotAfterEach, slot)
	_, ok = ParseSlot("sideways")
	assert.False(t, ok)
}
