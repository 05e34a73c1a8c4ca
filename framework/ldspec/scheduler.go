package ldspec

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/spec-harness/framework"
)

// SchedulerConfig contains options for a single-process run.
type SchedulerConfig struct {
	// Concurrency is the default bound for both case execution and node setup/teardown. Nodes
	// can override it for their own subtree. Values below 1 mean 1.
	Concurrency int

	// DryRun reports every runnable case as passed without calling hooks or bodies.
	DryRun bool

	// Sink receives progress events. It may be nil.
	Sink ReportSink

	// DebugLogger receives scheduler diagnostics. It may be nil.
	DebugLogger framework.Logger
}

// Scheduler runs trees of nodes in this process.
type Scheduler struct {
	config     SchedulerConfig
	classifier Classifier
	logger     framework.Logger
}

func NewScheduler(config SchedulerConfig) *Scheduler {
	logger := framework.OrNullLogger(config.DebugLogger)
	return &Scheduler{
		config:     config,
		classifier: Classifier{DebugLogger: logger},
		logger:     logger,
	}
}

// Run executes every root concurrently and returns once the last node has finished. Failures
// in user code never stop the run; they are recorded and reported. Cancelling ctx makes every
// case that has not yet started report as errored.
func (s *Scheduler) Run(ctx context.Context, roots []*Node) Results {
	results := NewResultsSink()
	run := &schedulerRun{
		Scheduler: s,
		sink:      MultiSink{Sinks: []ReportSink{results, Protect(s.config.Sink, s.logger)}},
	}
	top := newGates(s.config.Concurrency)
	var group errgroup.Group
	for _, n := range roots {
		n := n
		group.Go(func() error {
			run.runNode(ctx, n, top)
			return nil
		})
	}
	_ = group.Wait()
	return results.Results()
}

type schedulerRun struct {
	*Scheduler
	sink ReportSink
}

func (r *schedulerRun) runNode(ctx context.Context, n *Node, inherited gates) {
	g := inherited.forNode(n)
	scope := NewScope(n)
	r.sink.TrackSpec(n)
	r.logger.Printf("Setting up spec: %s", n.id)

	if f := r.nodeHook(ctx, g.specs, SlotBeforeAll, n.hooks.beforeAll, scope); f != nil {
		n.RecordHookFailure(*f)
		r.sink.CaseFinished(n, nil)
		return
	}

	var group errgroup.Group
	for _, c := range n.cases {
		c := c
		group.Go(func() error {
			r.runCase(ctx, g.cases, scope, c)
			return nil
		})
	}
	for _, child := range n.children {
		child := child
		group.Go(func() error {
			r.runNode(ctx, child, g)
			return nil
		})
	}
	_ = group.Wait()

	r.logger.Printf("Tearing down spec: %s", n.id)
	if f := r.nodeHook(ctx, g.specs, SlotAfterAll, n.hooks.afterAll, scope); f != nil {
		n.RecordHookFailure(*f)
		r.sink.CaseFinished(n, nil)
	}
	r.sink.SpecFinished(n)
}

// nodeHook runs before_all or after_all under the spec gate. Nodes without dependencies, and
// dry runs, skip the hook entirely and never take the gate.
func (r *schedulerRun) nodeHook(ctx context.Context, g *gate, slot Slot, hook Hook, scope *Scope) *Failure {
	if hook == nil || r.config.DryRun || !scope.node.HasDependencies() {
		return nil
	}
	if err := g.acquire(ctx); err != nil {
		return &Failure{Slot: slot, Traceback: tracebackFromError(err, nil)}
	}
	defer g.release()
	return r.classifier.RunHook(slot, hook, scope)
}

func (r *schedulerRun) runCase(ctx context.Context, g *gate, scope *Scope, c *Case) {
	if !c.Skipped() && !c.Incomplete() {
		if err := g.acquire(ctx); err != nil {
			c.attachFailure(Failure{Slot: SlotCase, Traceback: tracebackFromError(err, nil)})
		} else {
			ExecuteCase(r.classifier, scope, c, r.config.DryRun)
			g.release()
		}
	}
	if c.markCompleted() {
		r.sink.CaseFinished(scope.node, c)
	}
}
