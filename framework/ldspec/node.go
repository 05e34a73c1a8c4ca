package ldspec

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/opt"
)

// NodeID is the opaque identity of a node: the slash-separated path of names from its root,
// with a "#n" suffix on any name that repeats among siblings.
type NodeID string

// DiscoveryError is returned when a set of definitions cannot be turned into a tree. It is the
// only kind of error that stops a run before anything is scheduled.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	if e.Path == "" {
		return "discovery failed: " + e.Err.Error()
	}
	return fmt.Sprintf("discovery failed at %q: %s", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

var (
	errNilDef      = errors.New("nil spec definition")
	errUnnamedSpec = errors.New("spec has no name")
	errCycle       = errors.New("spec definitions form a cycle")
)

type hookSet struct {
	beforeAll, beforeEach, afterEach, afterAll Hook
}

// Node is a spec in the built tree. Its structure never changes once a run starts; the only
// mutable state is the scope values set by hooks, the captured debug output, and the hook
// failures recorded against it.
type Node struct {
	id              NodeID
	segment         string
	name            string
	qualifiedName   string
	doc             string
	metadata        Metadata
	parent          *Node
	children        []*Node
	cases           []*Case
	caseConcurrency opt.Maybe[int]
	specConcurrency opt.Maybe[int]
	hooks           hookSet
	duplicates      int

	valuesLock   sync.RWMutex
	values       map[string]interface{}
	debugLogger  framework.CapturingLogger
	failuresLock sync.Mutex
	hookFailures []Failure
}

func (n *Node) ID() NodeID { return n.id }

// Name is the declared name, without any sibling suffix.
func (n *Node) Name() string { return n.name }

func (n *Node) QualifiedName() string { return n.qualifiedName }

func (n *Node) Doc() string { return n.doc }

func (n *Node) Metadata() Metadata { return n.metadata }

// Parent returns nil for a root node.
func (n *Node) Parent() *Node { return n.parent }

func (n *Node) Children() []*Node { return n.children }

func (n *Node) Cases() []*Case { return n.cases }

func (n *Node) CaseConcurrency() opt.Maybe[int] { return n.caseConcurrency }

func (n *Node) SpecConcurrency() opt.Maybe[int] { return n.specConcurrency }

// Hook returns the resolved hook for a slot, or nil if the node has none. SlotCase has no hook.
func (n *Node) Hook(slot Slot) Hook {
	switch slot {
	case SlotBeforeAll:
		return n.hooks.beforeAll
	case SlotBeforeEach:
		return n.hooks.beforeEach
	case SlotAfterEach:
		return n.hooks.afterEach
	case SlotAfterAll:
		return n.hooks.afterAll
	}
	return nil
}

// DuplicateCases is the number of dataset entries dropped by deduplication.
func (n *Node) DuplicateCases() int { return n.duplicates }

func (n *Node) Path() Path {
	if n.parent == nil {
		return Path{n.segment}
	}
	return n.parent.Path().Plus(n.segment)
}

// Ancestors returns the chain of nodes from the root down to, and including, n.
func (n *Node) Ancestors() []*Node {
	if n.parent == nil {
		return []*Node{n}
	}
	return append(n.parent.Ancestors(), n)
}

// HasDependencies is true if any case in the subtree will actually run. Nodes without
// dependencies skip their before_all and after_all hooks.
func (n *Node) HasDependencies() bool {
	for _, c := range n.cases {
		if !c.Skipped() && !c.Incomplete() {
			return true
		}
	}
	for _, child := range n.children {
		if child.HasDependencies() {
			return true
		}
	}
	return false
}

// RecordHookFailure attaches a before_all or after_all failure to the node.
func (n *Node) RecordHookFailure(f Failure) {
	n.failuresLock.Lock()
	n.hookFailures = append(n.hookFailures, f)
	n.failuresLock.Unlock()
}

func (n *Node) HookFailures() []Failure {
	n.failuresLock.Lock()
	defer n.failuresLock.Unlock()
	return append([]Failure(nil), n.hookFailures...)
}

// Output is the debug output written through the node's scope outside of any case.
func (n *Node) Output() framework.CapturedOutput { return n.debugLogger.Output() }

// BuildOptions controls tree construction.
type BuildOptions struct {
	Dedupe bool
}

// Build constructs the trees for a list of root definitions. Fixtures are skipped. Any
// structural problem is reported as a *DiscoveryError.
func Build(defs []*Def, opts BuildOptions) ([]*Node, error) {
	b := builder{opts: opts}
	segments := make(map[string]int)
	var roots []*Node
	for _, d := range defs {
		if d == nil {
			return nil, &DiscoveryError{Err: errNilDef}
		}
		if d.Fixture {
			continue
		}
		n, err := b.build(d, nil, uniqueSegment(segments, d.Name), nil)
		if err != nil {
			return nil, err
		}
		roots = append(roots, n)
	}
	return roots, nil
}

type builder struct {
	opts BuildOptions
}

func (b builder) build(d *Def, parent *Node, segment string, ancestors []*Def) (*Node, error) {
	path := segment
	if parent != nil {
		path = string(parent.id) + "/" + segment
	}
	if d.Name == "" {
		return nil, &DiscoveryError{Path: path, Err: errUnnamedSpec}
	}
	if slices.Contains(ancestors, d) {
		return nil, &DiscoveryError{Path: path, Err: errCycle}
	}
	chain, err := baseChain(d)
	if err != nil {
		return nil, &DiscoveryError{Path: path, Err: err}
	}

	n := &Node{
		id:            NodeID(path),
		segment:       segment,
		name:          d.Name,
		qualifiedName: d.QualifiedName(),
		doc:           d.Doc,
		parent:        parent,
		values:        make(map[string]interface{}),
	}
	var dataset Dataset
	for _, def := range chain { // most derived first
		n.hooks.beforeAll = firstHook(n.hooks.beforeAll, def.BeforeAll)
		n.hooks.beforeEach = firstHook(n.hooks.beforeEach, def.BeforeEach)
		n.hooks.afterEach = firstHook(n.hooks.afterEach, def.AfterEach)
		n.hooks.afterAll = firstHook(n.hooks.afterAll, def.AfterAll)
		n.caseConcurrency = n.caseConcurrency.Or(def.CaseConcurrency)
		n.specConcurrency = n.specConcurrency.Or(def.SpecConcurrency)
		if len(dataset) == 0 {
			dataset = def.Dataset
		}
	}
	for _, limit := range []opt.Maybe[int]{n.caseConcurrency, n.specConcurrency} {
		if limit.IsDefined() && limit.Value() < 1 {
			return nil, &DiscoveryError{Path: path, Err: fmt.Errorf("concurrency limit must be at least 1, was %d", limit.Value())}
		}
	}
	metadataSets := make([]Metadata, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		metadataSets = append(metadataSets, chain[i].Metadata)
	}
	n.metadata = mergeMetadata(metadataSets...)

	bound, duplicates := Expand(resolveTemplates(chain), dataset, ExpandOptions{Dedupe: b.opts.Dedupe})
	n.duplicates = duplicates
	caseSegments := make(map[string]int)
	for _, bc := range bound {
		caseSegment := uniqueSegment(caseSegments, bc.Name)
		if bc.Template.Body == nil {
			return nil, &DiscoveryError{Path: path + "/" + caseSegment, Err: errors.New("case has no body")}
		}
		n.cases = append(n.cases, &Case{
			id:         CaseID(path + "/" + caseSegment),
			node:       n,
			template:   bc.Template,
			name:       caseSegment,
			metadata:   mergeMetadata(n.metadata, bc.Metadata),
			args:       bc.Args,
			dataDriven: bc.DataDriven,
		})
	}

	childAncestors := append(append([]*Def(nil), ancestors...), d)
	childSegments := make(map[string]int)
	for _, childDef := range resolveChildren(chain) {
		if childDef == nil {
			return nil, &DiscoveryError{Path: path, Err: errNilDef}
		}
		if childDef.Fixture {
			continue
		}
		child, err := b.build(childDef, n, uniqueSegment(childSegments, childDef.Name), childAncestors)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, nil
}

// baseChain returns d followed by its bases, most derived first.
func baseChain(d *Def) ([]*Def, error) {
	var chain []*Def
	for def := d; def != nil; def = def.Base {
		if slices.Contains(chain, def) {
			return nil, errCycle
		}
		chain = append(chain, def)
	}
	return chain, nil
}

func firstHook(current, candidate Hook) Hook {
	if current != nil {
		return current
	}
	return candidate
}

// resolveTemplates collects case templates from the most basic definition to the most
// derived. A template redeclared under the same name replaces the inherited one in place.
func resolveTemplates(chain []*Def) []*CaseTemplate {
	var order []string
	byName := make(map[string]*CaseTemplate)
	for i := len(chain) - 1; i >= 0; i-- {
		for j := range chain[i].Cases {
			t := &chain[i].Cases[j]
			if !isCaseName(t.Name) {
				continue
			}
			if _, ok := byName[t.Name]; !ok {
				order = append(order, t.Name)
			}
			byName[t.Name] = t
		}
	}
	ret := make([]*CaseTemplate, 0, len(order))
	for _, name := range order {
		ret = append(ret, byName[name])
	}
	return ret
}

func resolveChildren(chain []*Def) []*Def {
	var ret []*Def
	for i := len(chain) - 1; i >= 0; i-- {
		for _, c := range chain[i].Children {
			if c == nil || !slices.Contains(ret, c) {
				ret = append(ret, c)
			}
		}
	}
	return ret
}

func uniqueSegment(seen map[string]int, name string) string {
	seen[name]++
	if count := seen[name]; count > 1 {
		return name + "#" + strconv.Itoa(count)
	}
	return name
}

// Walk visits every node in the trees in depth-first pre-order.
func Walk(roots []*Node, fn func(n *Node)) {
	for _, n := range roots {
		fn(n)
		Walk(n.children, fn)
	}
}

// Index looks up nodes and cases by identity.
type Index struct {
	nodes map[NodeID]*Node
	cases map[CaseID]*Case
}

// NewIndex indexes every node and case in the trees.
func NewIndex(roots []*Node) *Index {
	idx := &Index{nodes: make(map[NodeID]*Node), cases: make(map[CaseID]*Case)}
	Walk(roots, func(n *Node) {
		idx.nodes[n.id] = n
		for _, c := range n.cases {
			idx.cases[c.id] = c
		}
	})
	return idx
}

func (idx *Index) Node(id NodeID) (*Node, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// Case returns the case with the given ID, provided that it belongs to the given node.
func (idx *Index) Case(id CaseID, node NodeID) (*Case, bool) {
	c, ok := idx.cases[id]
	if !ok || c.node.id != node {
		return nil, false
	}
	return c, true
}

// CaseCount is the total number of cases in the index.
func (idx *Index) CaseCount() int { return len(idx.cases) }
