package suites

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework/ldspec"
	m "github.com/launchdarkly/spec-harness/framework/matchers"
	"github.com/launchdarkly/spec-harness/framework/opt"
)

const (
	throughputCaseLimit = 4
	throughputCases     = 12
)

// gauge tracks how many callers are inside a section at once, and the most there have ever been.
type gauge struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (g *gauge) enter() {
	n := g.active.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.active.Add(-1) }

func (g *gauge) checkPeak(limit int) error {
	if p := int(g.peak.Load()); p > limit {
		return fmt.Errorf("%d ran at once, limit is %d", p, limit)
	}
	return nil
}

func gaugeFrom(s *ldspec.Scope, key string) *gauge {
	v, ok := s.Get(key)
	if !ok {
		panic("no gauge " + key + " in scope")
	}
	return v.(*gauge)
}

func throughputTemplates() []ldspec.CaseTemplate {
	ret := make([]ldspec.CaseTemplate, 0, throughputCases+2)
	for i := 0; i < throughputCases; i++ {
		ret = append(ret, ldspec.CaseTemplate{
			Name: fmt.Sprintf("worker_%02d", i),
			Body: func(t *ldspec.T) {
				g := gaugeFrom(t.Scope(), "cases")
				g.enter()
				defer g.leave()
				time.Sleep(5 * time.Millisecond)
				t.Expect(int(g.active.Load())).To(m.Not(m.BeGreaterThan(throughputCaseLimit)))
			},
		})
	}
	return append(ret,
		ldspec.CaseTemplate{
			Name:       "network_bound",
			Body:       func(*ldspec.T) {},
			Skip:       true,
			SkipReason: "needs a network",
		},
		ldspec.CaseTemplate{
			Name:       "burst",
			Body:       func(*ldspec.T) {},
			Incomplete: true,
		},
	)
}

// throughputSpec checks that the scheduler honors concurrency limits declared on a node.
var throughputSpec = &ldspec.Def{
	Name:            "Throughput",
	Package:         "suites",
	Metadata:        ldspec.Metadata{"speed": ldvalue.String("slow")},
	CaseConcurrency: opt.Some(throughputCaseLimit),
	BeforeAll: func(s *ldspec.Scope) error {
		s.Set("cases", &gauge{})
		return nil
	},
	AfterAll: func(s *ldspec.Scope) error {
		return gaugeFrom(s, "cases").checkPeak(throughputCaseLimit)
	},
	Cases:    throughputTemplates(),
	Children: []*ldspec.Def{serialSetupSpec},
}

func serialSetupChild(name string) *ldspec.Def {
	return &ldspec.Def{
		Name: name,
		BeforeAll: func(s *ldspec.Scope) error {
			g := gaugeFrom(s, "setups")
			g.enter()
			defer g.leave()
			time.Sleep(5 * time.Millisecond)
			return nil
		},
		Cases: []ldspec.CaseTemplate{
			{Name: "ready", Body: func(t *ldspec.T) {
				t.Expect(gaugeFrom(t.Scope(), "setups").checkPeak(1)).To(m.BeNil())
			}},
		},
	}
}

var serialSetupSpec = &ldspec.Def{
	Name:            "SerialSetup",
	SpecConcurrency: opt.Some(1),
	BeforeAll: func(s *ldspec.Scope) error {
		s.Set("setups", &gauge{})
		return nil
	},
	AfterAll: func(s *ldspec.Scope) error {
		return gaugeFrom(s, "setups").checkPeak(1)
	},
	Children: []*ldspec.Def{
		serialSetupChild("First"),
		serialSetupChild("Second"),
		serialSetupChild("Third"),
	},
}
