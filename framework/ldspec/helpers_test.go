package ldspec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type sinkEvent struct {
	kind string
	node NodeID
	c    CaseID
}

func (e sinkEvent) String() string { return fmt.Sprintf("%s %s %s", e.kind, e.node, e.c) }

type recordingSink struct {
	lock   sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) add(e sinkEvent) {
	r.lock.Lock()
	r.events = append(r.events, e)
	r.lock.Unlock()
}

func (r *recordingSink) TrackSpec(n *Node) { r.add(sinkEvent{kind: "track", node: n.ID()}) }

func (r *recordingSink) CaseFinished(n *Node, c *Case) {
	e := sinkEvent{kind: "case", node: n.ID()}
	if c != nil {
		e.c = c.ID()
	}
	r.add(e)
}

func (r *recordingSink) SpecFinished(n *Node) { r.add(sinkEvent{kind: "finished", node: n.ID()}) }

func (r *recordingSink) all() []sinkEvent {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]sinkEvent(nil), r.events...)
}

func (r *recordingSink) count(kind string, node NodeID) int {
	n := 0
	for _, e := range r.all() {
		if e.kind == kind && e.node == node {
			n++
		}
	}
	return n
}

// sequence hands out monotonically increasing numbers and remembers who got which.
type sequence struct {
	counter int64
	lock    sync.Mutex
	seen    map[string]int64
}

func newSequence() *sequence { return &sequence{seen: make(map[string]int64)} }

func (s *sequence) mark(name string) {
	n := atomic.AddInt64(&s.counter, 1)
	s.lock.Lock()
	s.seen[name] = n
	s.lock.Unlock()
}

func (s *sequence) get(t *testing.T, name string) int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.seen[name]
	require.True(t, ok, "no mark for %s", name)
	return n
}

func passingCase(name string) CaseTemplate {
	return CaseTemplate{Name: name, Body: func(*T) {}}
}

func buildOne(t *testing.T, d *Def) *Node {
	roots, err := Build([]*Def{d}, BuildOptions{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	return roots[0]
}

func caseNamed(t *testing.T, n *Node, name string) *Case {
	for _, c := range n.Cases() {
		if c.Name() == name {
			return c
		}
	}
	require.Fail(t, "case not found", name)
	return nil
}
