package ldspec

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework/matchers"
	"github.com/launchdarkly/spec-harness/framework/opt"
)

func run(t *testing.T, sink ReportSink, concurrency int, defs ...*Def) ([]*Node, Results) {
	roots, err := Build(defs, BuildOptions{})
	require.NoError(t, err)
	s := NewScheduler(SchedulerConfig{Concurrency: concurrency, Sink: sink})
	return roots, s.Run(context.Background(), roots)
}

func markingCase(seq *sequence, name string) CaseTemplate {
	return CaseTemplate{Name: name, Body: func(t *T) {
		time.Sleep(time.Millisecond)
		seq.mark(string(t.ID()))
	}}
}

func markingHook(seq *sequence, name string) Hook {
	return func(s *Scope) error {
		seq.mark(string(s.Node().ID()) + ":" + name)
		return nil
	}
}

func TestHooksWrapEverythingBelowThem(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		seq := newSequence()
		child := &Def{
			Name:      "child",
			BeforeAll: markingHook(seq, "before_all"),
			AfterAll:  markingHook(seq, "after_all"),
			Cases:     []CaseTemplate{markingCase(seq, "c1"), markingCase(seq, "c2")},
		}
		root := &Def{
			Name:      "root",
			BeforeAll: markingHook(seq, "before_all"),
			AfterAll:  markingHook(seq, "after_all"),
			Cases:     []CaseTemplate{markingCase(seq, "r1"), markingCase(seq, "r2")},
			Children:  []*Def{child},
		}
		_, results := run(t, nil, concurrency, root)
		require.True(t, results.OK())
		assert.Equal(t, 4, results.Totals.Passed)

		rootBefore, rootAfter := seq.get(t, "root:before_all"), seq.get(t, "root:after_all")
		childBefore, childAfter := seq.get(t, "root/child:before_all"), seq.get(t, "root/child:after_all")
		for _, id := range []string{"root/r1", "root/r2"} {
			assert.Less(t, rootBefore, seq.get(t, id))
			assert.Greater(t, rootAfter, seq.get(t, id))
		}
		for _, id := range []string{"root/child/c1", "root/child/c2"} {
			assert.Less(t, childBefore, seq.get(t, id))
			assert.Greater(t, childAfter, seq.get(t, id))
		}
		assert.Less(t, rootBefore, childBefore)
		assert.Greater(t, rootAfter, childAfter)
	}
}

func TestSpecFinishedFollowsAllCaseReports(t *testing.T) {
	sink := &recordingSink{}
	root := &Def{
		Name:     "root",
		Cases:    []CaseTemplate{passingCase("a"), passingCase("b")},
		Children: []*Def{{Name: "child", Cases: []CaseTemplate{passingCase("c")}}},
	}
	_, _ = run(t, sink, 3, root)
	events := sink.all()
	require.NotEmpty(t, events)
	assert.Equal(t, sinkEvent{kind: "track", node: "root"}, events[0])
	assert.Equal(t, sinkEvent{kind: "finished", node: "root"}, events[len(events)-1])
	assert.Equal(t, 1, sink.count("track", "root/child"))
	assert.Equal(t, 1, sink.count("finished", "root/child"))
	assert.Equal(t, 2, sink.count("case", "root"))
	assert.Equal(t, 1, sink.count("case", "root/child"))
}

func TestSkippedAndIncompleteCasesNeverRunHooksOrBody(t *testing.T) {
	var hookCalls, bodyCalls int64
	spy := func(*Scope) error {
		atomic.AddInt64(&hookCalls, 1)
		return nil
	}
	body := func(*T) { atomic.AddInt64(&bodyCalls, 1) }
	d := &Def{
		Name:       "lazy",
		BeforeAll:  spy,
		BeforeEach: spy,
		AfterEach:  spy,
		AfterAll:   spy,
		Cases: []CaseTemplate{
			{Name: "skipped", Body: body, Skip: true, SkipReason: "not today"},
			{Name: "incomplete", Body: body, Incomplete: true},
		},
	}
	roots, results := run(t, nil, 2, d)
	assert.Equal(t, int64(0), atomic.LoadInt64(&hookCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&bodyCalls))
	assert.False(t, roots[0].HasDependencies())
	assert.Equal(t, 1, results.Totals.Skipped)
	assert.Equal(t, 1, results.Totals.Incomplete)
	assert.True(t, results.OK())
	assert.Equal(t, StatusSkipped, caseNamed(t, roots[0], "skipped").Status())
	assert.Equal(t, "not today", caseNamed(t, roots[0], "skipped").SkipReason())
}

func TestRequiredFailureStopsOnlyItsOwnCase(t *testing.T) {
	reachedEnd := false
	d := &Def{
		Name: "node",
		Cases: []CaseTemplate{
			{Name: "required", Body: func(t *T) {
				t.Require(1).To(matchers.Equal(2))
				reachedEnd = true
				t.Expect(3).To(matchers.Equal(3))
			}},
			{Name: "sibling", Body: func(t *T) {
				t.Expect("x").To(matchers.Equal("x"))
			}},
		},
	}
	roots, results := run(t, nil, 1, d)
	assert.False(t, reachedEnd)
	required := caseNamed(t, roots[0], "required")
	assert.Equal(t, StatusFailed, required.Status())
	require.Len(t, required.Assertions(), 1)
	a := required.Assertions()[0]
	assert.True(t, a.Required)
	assert.False(t, a.Success)
	assert.Equal(t, "equal", a.Comparator)
	assert.Equal(t, "1", a.TargetText)
	assert.Equal(t, "2", a.ExpectedText)
	assert.Contains(t, a.Location, "scheduler_test.go:")
	assert.Empty(t, required.Failures())

	assert.Equal(t, StatusPassed, caseNamed(t, roots[0], "sibling").Status())
	assert.Equal(t, 1, results.Totals.Failed)
	assert.Equal(t, 1, results.Totals.Passed)
	assert.False(t, results.OK())
}

func TestOptionalFailureLetsBodyContinue(t *testing.T) {
	reachedEnd := false
	d := &Def{Name: "node", Cases: []CaseTemplate{{Name: "optional", Body: func(t *T) {
		t.Expect(1).To(matchers.Equal(2))
		reachedEnd = true
		t.Expect(2).To(matchers.Equal(2))
	}}}}
	roots, _ := run(t, nil, 1, d)
	assert.True(t, reachedEnd)
	c := roots[0].Cases()[0]
	assert.Equal(t, StatusFailed, c.Status())
	assert.Len(t, c.Assertions(), 2)
}

func TestTestifyAssertionsInCaseBody(t *testing.T) {
	reachedEnd := false
	d := &Def{Name: "node", Cases: []CaseTemplate{
		{Name: "assert", Body: func(t *T) {
			assert.Equal(t, 1, 2)
		}},
		{Name: "require", Body: func(t *T) {
			require.Equal(t, "a", "b")
			reachedEnd = true
		}},
		{Name: "fail_now", Body: func(t *T) {
			t.FailNow()
		}},
	}}
	roots, _ := run(t, nil, 1, d)
	assert.False(t, reachedEnd)
	for _, name := range []string{"assert", "require", "fail_now"} {
		c := caseNamed(t, roots[0], name)
		assert.Equal(t, StatusFailed, c.Status(), name)
		require.NotEmpty(t, c.Assertions())
		assert.NotContains(t, c.Assertions()[0].Message, "Error Trace:")
	}
	assert.Contains(t, caseNamed(t, roots[0], "assert").Assertions()[0].Message, "Not equal")
}

func TestPanicInCaseIsContained(t *testing.T) {
	d := &Def{Name: "node", Cases: []CaseTemplate{
		{Name: "boom", Body: func(t *T) { panic("kaboom") }},
		passingCase("fine"),
	}}
	roots, results := run(t, nil, 2, d)
	boom := caseNamed(t, roots[0], "boom")
	assert.Equal(t, StatusErrored, boom.Status())
	require.Len(t, boom.Failures(), 1)
	f := boom.Failures()[0]
	assert.Equal(t, SlotCase, f.Slot)
	assert.Contains(t, f.Traceback.Message, "kaboom")
	assert.Equal(t, "string", f.Traceback.Type)
	require.NotEmpty(t, f.Traceback.Frames)
	assert.LessOrEqual(t, len(f.Traceback.Frames), maxTracebackFrames)
	assert.Contains(t, f.Traceback.Frames[0].File, "scheduler_test.go")
	assert.NotEmpty(t, f.Traceback.Frames[0].Source)

	assert.Equal(t, StatusPassed, caseNamed(t, roots[0], "fine").Status())
	assert.Equal(t, 1, results.Totals.Errored)
}

func TestBeforeAllFailureReportsOnceAndStopsTheSubtree(t *testing.T) {
	sink := &recordingSink{}
	var ran int64
	body := func(*T) { atomic.AddInt64(&ran, 1) }
	d := &Def{
		Name:      "broken",
		BeforeAll: func(*Scope) error { return errors.New("no database") },
		AfterAll:  func(*Scope) error { atomic.AddInt64(&ran, 100); return nil },
		Cases:     []CaseTemplate{{Name: "a", Body: body}, {Name: "b", Body: body}},
		Children:  []*Def{{Name: "child", Cases: []CaseTemplate{{Name: "c", Body: body}}}},
	}
	roots, results := run(t, sink, 2, d)

	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
	assert.Equal(t, []sinkEvent{
		{kind: "track", node: "broken"},
		{kind: "case", node: "broken"},
	}, sink.all())

	failures := roots[0].HookFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, SlotBeforeAll, failures[0].Slot)
	assert.Equal(t, "no database", failures[0].Traceback.Message)
	require.Len(t, failures[0].Traceback.Frames, 1)
	assert.Contains(t, failures[0].Traceback.Frames[0].File, "scheduler_test.go")

	assert.Equal(t, 1, results.Totals.HookFailures)
	assert.Equal(t, 0, results.Totals.Cases())
	assert.False(t, results.OK())
}

func TestBeforeAllPanicIsAHookFailure(t *testing.T) {
	d := &Def{
		Name:      "broken",
		BeforeAll: func(*Scope) error { panic(errors.New("bad setup")) },
		Cases:     []CaseTemplate{passingCase("a")},
	}
	roots, results := run(t, nil, 1, d)
	require.Len(t, roots[0].HookFailures(), 1)
	assert.Contains(t, roots[0].HookFailures()[0].Traceback.Message, "bad setup")
	assert.Equal(t, 1, results.Totals.HookFailures)
}

func TestEachHookFailuresErrorOnlyTheCase(t *testing.T) {
	var bodies int64
	beforeEachBroken := &Def{
		Name:       "before_each_broken",
		BeforeEach: func(*Scope) error { return errors.New("nope") },
		Cases:      []CaseTemplate{{Name: "a", Body: func(*T) { atomic.AddInt64(&bodies, 1) }}},
	}
	afterEachBroken := &Def{
		Name:      "after_each_broken",
		AfterEach: func(*Scope) error { return errors.New("cleanup failed") },
		Cases:     []CaseTemplate{{Name: "b", Body: func(*T) { atomic.AddInt64(&bodies, 10) }}},
	}
	healthy := &Def{Name: "healthy", Cases: []CaseTemplate{passingCase("c")}}
	roots, results := run(t, nil, 2, beforeEachBroken, afterEachBroken, healthy)

	assert.Equal(t, int64(10), atomic.LoadInt64(&bodies))
	a := roots[0].Cases()[0]
	assert.Equal(t, StatusErrored, a.Status())
	assert.Equal(t, SlotBeforeEach, a.Failures()[0].Slot)
	b := roots[1].Cases()[0]
	assert.Equal(t, StatusErrored, b.Status())
	assert.Equal(t, SlotAfterEach, b.Failures()[0].Slot)
	assert.Equal(t, StatusPassed, roots[2].Cases()[0].Status())
	assert.Equal(t, 2, results.Totals.Errored)
	assert.Equal(t, 0, results.Totals.HookFailures)
}

func TestAfterAllFailureIsReportedBeforeSpecFinished(t *testing.T) {
	sink := &recordingSink{}
	d := &Def{
		Name:     "node",
		AfterAll: func(*Scope) error { return errors.New("teardown") },
		Cases:    []CaseTemplate{passingCase("a")},
	}
	roots, results := run(t, sink, 1, d)
	assert.Equal(t, []sinkEvent{
		{kind: "track", node: "node"},
		{kind: "case", node: "node", c: "node/a"},
		{kind: "case", node: "node"},
		{kind: "finished", node: "node"},
	}, sink.all())
	assert.Equal(t, SlotAfterAll, roots[0].HookFailures()[0].Slot)
	assert.Equal(t, 1, results.Totals.Passed)
	assert.False(t, results.OK())
}

func maxConcurrent(cases int, limit opt.Maybe[int], concurrency int, t *testing.T) int64 {
	var current, highest int64
	var lock sync.Mutex
	body := func(*T) {
		n := atomic.AddInt64(&current, 1)
		lock.Lock()
		if n > highest {
			highest = n
		}
		lock.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
	}
	d := &Def{Name: "node", CaseConcurrency: limit}
	for i := 0; i < cases; i++ {
		d.Cases = append(d.Cases, CaseTemplate{Name: "c" + string(rune('a'+i)), Body: body})
	}
	_, results := run(t, nil, concurrency, d)
	require.Equal(t, cases, results.Totals.Passed)
	return highest
}

func TestCaseConcurrencyIsBounded(t *testing.T) {
	assert.Equal(t, int64(1), maxConcurrent(5, opt.None[int](), 1, t))
	assert.LessOrEqual(t, maxConcurrent(6, opt.None[int](), 2, t), int64(2))
	assert.LessOrEqual(t, maxConcurrent(6, opt.Some(3), 1, t), int64(3))
	assert.Equal(t, int64(1), maxConcurrent(4, opt.Some(1), 8, t))
}

func TestCaseConcurrencyOverrideIsInherited(t *testing.T) {
	var current, highest int64
	var lock sync.Mutex
	body := func(*T) {
		n := atomic.AddInt64(&current, 1)
		lock.Lock()
		if n > highest {
			highest = n
		}
		lock.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
	}
	child := &Def{Name: "child", Cases: []CaseTemplate{{Name: "x", Body: body}, {Name: "y", Body: body}}}
	root := &Def{
		Name:            "root",
		CaseConcurrency: opt.Some(1),
		Cases:           []CaseTemplate{{Name: "a", Body: body}, {Name: "b", Body: body}},
		Children:        []*Def{child},
	}
	_, results := run(t, nil, 8, root)
	assert.Equal(t, 4, results.Totals.Passed)
	assert.Equal(t, int64(1), highest)
}

func TestDryRunExecutesNothing(t *testing.T) {
	var calls int64
	count := func(*Scope) error { atomic.AddInt64(&calls, 1); return nil }
	d := &Def{
		Name:       "node",
		BeforeAll:  count,
		BeforeEach: count,
		Cases:      []CaseTemplate{{Name: "a", Body: func(*T) { atomic.AddInt64(&calls, 1); panic("no") }}},
	}
	roots, _ := Build([]*Def{d}, BuildOptions{})
	results := NewScheduler(SchedulerConfig{DryRun: true}).Run(context.Background(), roots)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
	assert.Equal(t, 1, results.Totals.Passed)
}

func TestScopeValuesAreVisibleToCasesAndDescendants(t *testing.T) {
	var seen sync.Map
	d := &Def{
		Name: "root",
		BeforeAll: func(s *Scope) error {
			s.Set("conn", "db-1")
			return nil
		},
		Cases: []CaseTemplate{{Name: "a", Body: func(t *T) {
			v, _ := t.Scope().Get("conn")
			seen.Store("a", v)
		}}},
		Children: []*Def{{Name: "child", Cases: []CaseTemplate{{Name: "b", Body: func(t *T) {
			v, _ := t.Scope().Get("conn")
			seen.Store("b", v)
			_, found := t.Scope().Get("missing")
			seen.Store("missing", found)
		}}}}},
	}
	_, results := run(t, nil, 2, d)
	require.True(t, results.OK())
	a, _ := seen.Load("a")
	b, _ := seen.Load("b")
	missing, _ := seen.Load("missing")
	assert.Equal(t, "db-1", a)
	assert.Equal(t, "db-1", b)
	assert.Equal(t, false, missing)
}

func TestDebugOutputIsCapturedPerCase(t *testing.T) {
	d := &Def{
		Name: "node",
		BeforeAll: func(s *Scope) error {
			s.DebugLogger().Printf("setting up")
			return nil
		},
		BeforeEach: func(s *Scope) error {
			s.DebugLogger().Printf("before each")
			return nil
		},
		Cases: []CaseTemplate{{Name: "a", Body: func(t *T) { t.Debug("in %s", t.Name()) }}},
	}
	roots, _ := run(t, nil, 1, d)
	var messages []string
	for _, m := range roots[0].Cases()[0].Output() {
		messages = append(messages, m.Message)
	}
	assert.Equal(t, []string{"setting up", "before each", "in a"}, messages)
}

type panickingSink struct{}

func (panickingSink) TrackSpec(*Node)           { panic("track") }
func (panickingSink) CaseFinished(*Node, *Case) { panic("case") }
func (panickingSink) SpecFinished(*Node)        { panic("finished") }

func TestPanickingSinkDoesNotDisturbTheRun(t *testing.T) {
	d := &Def{Name: "node", Cases: []CaseTemplate{passingCase("a"), passingCase("b")}}
	_, results := run(t, panickingSink{}, 2, d)
	assert.Equal(t, 2, results.Totals.Passed)
	assert.True(t, results.OK())
}

func TestPanickingSinkDoesNotHideFailures(t *testing.T) {
	d := &Def{
		Name:      "node",
		BeforeAll: func(*Scope) error { return nil },
		AfterAll:  func(*Scope) error { return errors.New("teardown failed") },
		Cases: []CaseTemplate{
			passingCase("a"),
			{Name: "b", Body: func(t *T) { t.Errorf("wrong") }},
		},
	}
	_, results := run(t, panickingSink{}, 2, d)
	assert.Equal(t, Totals{Passed: 1, Failed: 1, HookFailures: 1}, results.Totals)
	assert.False(t, results.OK())
}

type finishedCases chan *Case

func (finishedCases) TrackSpec(*Node)                 {}
func (f finishedCases) CaseFinished(_ *Node, c *Case) { f <- c }
func (finishedCases) SpecFinished(*Node)              {}

func receiveCase(t *testing.T, ch <-chan *Case) *Case {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		require.Fail(t, "timed out waiting for a case to finish")
		return nil
	}
}

func TestCancellingErrorsCasesWaitingForTheGate(t *testing.T) {
	entered := make(chan string, 4)
	release := make(chan struct{})
	body := func(t *T) {
		entered <- t.Name()
		<-release
	}
	d := &Def{Name: "node", Cases: []CaseTemplate{
		{Name: "a", Body: body}, {Name: "b", Body: body}, {Name: "c", Body: body}, {Name: "d", Body: body},
	}}
	roots, err := Build([]*Def{d}, BuildOptions{})
	require.NoError(t, err)

	sink := make(finishedCases, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan Results, 1)
	go func() {
		done <- NewScheduler(SchedulerConfig{Concurrency: 1, Sink: sink}).Run(ctx, roots)
	}()

	var holder string
	select {
	case holder = <-entered:
	case <-time.After(5 * time.Second):
		require.Fail(t, "no case started")
	}
	cancel()

	// The gate stays held until every waiting case has been reported.
	reported := make(map[CaseID]int)
	for i := 0; i < 3; i++ {
		c := receiveCase(t, sink)
		require.NotNil(t, c)
		reported[c.ID()]++
		assert.Equal(t, StatusErrored, c.Status(), c.ID())
		if assert.Len(t, c.Failures(), 1) {
			assert.Equal(t, SlotCase, c.Failures()[0].Slot)
			assert.Equal(t, context.Canceled.Error(), c.Failures()[0].Traceback.Message)
		}
	}
	assert.NotContains(t, reported, CaseID("node/"+holder))
	close(release)

	var results Results
	select {
	case results = <-done:
	case <-time.After(5 * time.Second):
		require.Fail(t, "run did not finish")
	}
	holderCase := receiveCase(t, sink)
	require.NotNil(t, holderCase)
	reported[holderCase.ID()]++
	assert.Equal(t, CaseID("node/"+holder), holderCase.ID())

	assert.Len(t, reported, 4)
	for id, n := range reported {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, sink, 0)
	assert.Equal(t, Totals{Passed: 1, Errored: 3}, results.Totals)
	assert.Len(t, roots[0].HookFailures(), 0)
	assert.Len(t, entered, 0)
}
