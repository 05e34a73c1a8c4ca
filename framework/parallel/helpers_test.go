package parallel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
	"github.com/launchdarkly/spec-harness/framework/matchers"
)

// poolDefs is a tree with every kind of outcome, used by both the in-process and the child
// process tests.
func poolDefs() []*ldspec.Def {
	numbered := make([]ldspec.CaseTemplate, 0, 12)
	for i := 0; i < 12; i++ {
		i := i
		numbered = append(numbered, ldspec.CaseTemplate{
			Name: fmt.Sprintf("n%02d", i),
			Body: func(t *ldspec.T) {
				t.Debug("checking %d", i)
				t.Expect(i % 5).To(matchers.Not(matchers.Equal(4)))
			},
		})
	}
	return []*ldspec.Def{
		{
			Name: "pool",
			BeforeAll: func(s *ldspec.Scope) error {
				s.Set("greeting", "hello")
				return nil
			},
			Cases: append(numbered,
				ldspec.CaseTemplate{Name: "reads_scope", Body: func(t *ldspec.T) {
					v, _ := t.Scope().Get("greeting")
					t.Require(v).To(matchers.Equal("hello"))
				}},
				ldspec.CaseTemplate{Name: "panics", Body: func(*ldspec.T) { panic("kaboom") }},
				ldspec.CaseTemplate{Name: "skipped", Body: func(*ldspec.T) {}, Skip: true, SkipReason: "later"},
				ldspec.CaseTemplate{Name: "unfinished", Body: func(*ldspec.T) {}, Incomplete: true},
			),
			Children: []*ldspec.Def{
				{
					Name: "sums",
					Cases: []ldspec.CaseTemplate{{
						Name:   "sum",
						Params: []ldspec.Param{{Name: "a"}, {Name: "b"}, {Name: "total"}},
						Body: func(t *ldspec.T) {
							t.Expect(t.Arg("a").IntValue() + t.Arg("b").IntValue()).To(matchers.Equal(t.Arg("total").IntValue()))
						},
					}},
					Dataset: ldspec.Dataset{
						"small": {Args: ldspec.Args{"a": ldvalue.Int(1), "b": ldvalue.Int(2), "total": ldvalue.Int(3)}},
						"wrong": {Args: ldspec.Args{"a": ldvalue.Int(2), "b": ldvalue.Int(2), "total": ldvalue.Int(5)}},
					},
				},
				{
					Name:      "broken_setup",
					BeforeAll: func(*ldspec.Scope) error { return errors.New("no database") },
					Cases:     []ldspec.CaseTemplate{passing("a"), passing("b")},
				},
				{
					Name:     "broken_teardown",
					AfterAll: func(*ldspec.Scope) error { return errors.New("could not clean up") },
					Cases:    []ldspec.CaseTemplate{passing("x"), passing("y"), passing("z")},
				},
			},
		},
	}
}

func passing(name string) ldspec.CaseTemplate {
	return ldspec.CaseTemplate{Name: name, Body: func(*ldspec.T) {}}
}

func buildPool(t *testing.T) []*ldspec.Node {
	roots, err := ldspec.Build(poolDefs(), ldspec.BuildOptions{})
	require.NoError(t, err)
	return roots
}

// caseState is the part of a case's final state that must not depend on how the work was
// distributed.
type caseState struct {
	Status     ldspec.Status
	Assertions int
	Slots      []ldspec.Slot
}

func finalState(roots []*ldspec.Node) (map[ldspec.CaseID]caseState, map[ldspec.NodeID]int) {
	cases := make(map[ldspec.CaseID]caseState)
	hooks := make(map[ldspec.NodeID]int)
	ldspec.Walk(roots, func(n *ldspec.Node) {
		if failures := n.HookFailures(); len(failures) > 0 {
			hooks[n.ID()] = len(failures)
		}
		for _, c := range n.Cases() {
			s := caseState{Status: c.Status(), Assertions: len(c.Assertions())}
			for _, f := range c.Failures() {
				s.Slots = append(s.Slots, f.Slot)
			}
			cases[c.ID()] = s
		}
	})
	return cases, hooks
}

type countingSink struct {
	lock     sync.Mutex
	cases    map[ldspec.CaseID]int
	hooks    int
	tracked  []ldspec.NodeID
	finished []ldspec.NodeID
}

func newCountingSink() *countingSink {
	return &countingSink{cases: make(map[ldspec.CaseID]int)}
}

func (s *countingSink) TrackSpec(n *ldspec.Node) {
	s.lock.Lock()
	s.tracked = append(s.tracked, n.ID())
	s.lock.Unlock()
}

func (s *countingSink) CaseFinished(n *ldspec.Node, c *ldspec.Case) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if c == nil {
		s.hooks++
		return
	}
	s.cases[c.ID()]++
}

func (s *countingSink) SpecFinished(n *ldspec.Node) {
	s.lock.Lock()
	s.finished = append(s.finished, n.ID())
	s.lock.Unlock()
}

func (s *countingSink) finishedSorted() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	ret := make([]string, 0, len(s.finished))
	for _, id := range s.finished {
		ret = append(ret, string(id))
	}
	sort.Strings(ret)
	return ret
}
