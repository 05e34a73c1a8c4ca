package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

// DefaultFlushInterval is how long a worker holds finished outcomes before sending them.
const DefaultFlushInterval = 10 * time.Millisecond

// Coordinator runs the cases of a tree in a pool of worker processes and reconciles their
// outcomes back onto the tree. It reports to its sink the same way ldspec.Scheduler does: a
// before_all failure is reported once against its node, nothing is reported for the cases and
// nodes below it, and the node never gets SpecFinished.
type Coordinator struct {
	Workers       int
	Launcher      Launcher
	FlushInterval time.Duration
	Sink          ldspec.ReportSink
	Dedupe        bool
	DryRun        bool
	DebugLogger   framework.Logger
}

type hookFailure struct {
	node    ldspec.NodeID
	failure ldspec.Failure
}

// event is what a worker's reader goroutine hands to the reconciliation loop.
type event struct {
	worker   int
	outcomes []ldspec.Outcome
	setup    *hookFailure
	teardown *hookFailure
	lost     []Token
	done     bool
	worked   int
	err      error
}

// Run executes every case under roots. The returned error is non-nil if any worker could not be
// started or did not finish cleanly; cases that such a worker never reported are failed, so
// the results are complete either way.
func (co *Coordinator) Run(ctx context.Context, roots []*ldspec.Node) (ldspec.Results, error) {
	logger := framework.LoggerWithPrefix(framework.OrNullLogger(co.DebugLogger), "[coordinator] ")
	workers := max(co.Workers, 1)
	flushInterval := co.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	results := ldspec.NewResultsSink()
	r := &reconciler{
		index:    ldspec.NewIndex(roots),
		sink:     ldspec.MultiSink{Sinks: []ldspec.ReportSink{results, ldspec.Protect(co.Sink, logger)}},
		logger:   logger,
		tracker:  newCompletionTracker(roots),
		tornDown: make(map[ldspec.NodeID]bool),
	}

	ldspec.Walk(roots, func(n *ldspec.Node) { r.sink.TrackSpec(n) })
	tokens := make(chan Token, r.index.CaseCount()+workers)
	ldspec.Walk(roots, func(n *ldspec.Node) {
		for _, c := range n.Cases() {
			if c.Skipped() || c.Incomplete() {
				r.finish(c, c.Outcome())
				continue
			}
			tokens <- Token{Case: c.ID(), Node: n.ID()}
		}
	})
	for i := 0; i < workers; i++ {
		tokens <- Token{Stop: true}
	}
	r.tracker.finishEmpty(r.sink)

	conns := make([]*Conn, 0, workers)
	var launchErr error
	for i := 1; i <= workers; i++ {
		conn, err := co.Launcher.Launch(ctx, i)
		if err != nil {
			launchErr = fmt.Errorf("could not launch worker %d: %w", i, err)
			break
		}
		conns = append(conns, conn)
	}
	if launchErr != nil {
		for _, conn := range conns {
			_ = conn.In.Close()
			_ = conn.Wait()
		}
		return results.Results(), launchErr
	}
	logger.Printf("Dispatching %d cases to %d workers", len(tokens)-workers, workers)

	events := make(chan event)
	var readers sync.WaitGroup
	for i, conn := range conns {
		readers.Add(1)
		options := StartOptions{Worker: i + 1, DryRun: co.DryRun, Dedupe: co.Dedupe, FlushInterval: flushInterval}
		go func(conn *Conn) {
			defer readers.Done()
			serveConn(ctx, conn, options, tokens, events)
		}(conn)
	}
	go func() {
		readers.Wait()
		close(events)
	}()

	doneCount, worked := 0, 0
	var errs []error
	for ev := range events {
		for _, o := range ev.outcomes {
			r.reconcile(o)
		}
		if ev.setup != nil {
			r.recordSetupFailure(*ev.setup)
		}
		if ev.teardown != nil {
			r.recordTeardown(*ev.teardown)
		}
		if ev.err != nil {
			logger.Printf("Worker %d failed: %s", ev.worker, ev.err)
			errs = append(errs, fmt.Errorf("worker %d: %w", ev.worker, ev.err))
		}
		for _, t := range ev.lost {
			r.fail(t, fmt.Sprintf("worker %d stopped before reporting this case", ev.worker))
		}
		if ev.done {
			doneCount++
			worked += ev.worked
		}
	}
	logger.Printf("%d of %d workers finished, %d cases processed", doneCount, workers, worked)

	ldspec.Walk(roots, func(n *ldspec.Node) {
		for _, c := range n.Cases() {
			if !c.Completed() {
				r.fail(Token{Case: c.ID(), Node: n.ID()}, "no worker was left to run this case")
			}
		}
	})

	var wait errgroup.Group
	for i, conn := range conns {
		i, conn := i, conn
		wait.Go(func() error {
			if err := conn.Wait(); err != nil {
				return fmt.Errorf("worker %d exited: %w", i+1, err)
			}
			return nil
		})
	}
	if err := wait.Wait(); err != nil {
		errs = append(errs, err)
	}
	return results.Results(), errors.Join(errs...)
}

// serveConn talks to one worker. Every case handed to the worker is outstanding until an
// outcome or a setup failure for it comes back; if the conversation ends early, the outstanding
// cases are reported as lost.
func serveConn(ctx context.Context, conn *Conn, options StartOptions, tokens <-chan Token, events chan<- event) {
	stop := context.AfterFunc(ctx, func() { _ = conn.In.Close() })
	defer stop()
	defer conn.In.Close() //nolint:errcheck

	var outstanding []Token
	lose := func(err error) {
		events <- event{worker: options.Worker, lost: outstanding, err: err}
	}

	reader := newMessageReader(conn.Out)
	writer := messageWriter{w: conn.In}
	if err := writer.send(Message{Kind: KindStart, Start: options}); err != nil {
		lose(err)
		return
	}
	for {
		m, err := reader.next()
		if err != nil {
			lose(unexpectedEnd(err))
			return
		}
		switch m.Kind {
		case KindReady:
			var t Token
			select {
			case t = <-tokens:
			default:
				t = Token{Stop: true}
			}
			if t.Stop {
				err = writer.send(Message{Kind: KindStop})
			} else {
				outstanding = append(outstanding, t)
				err = writer.send(Message{Kind: KindCase, Token: t})
			}
			if err != nil {
				lose(err)
				return
			}
		case KindBatch:
			for _, o := range m.Outcomes {
				outstanding = removeToken(outstanding, o.Case)
			}
			events <- event{worker: options.Worker, outcomes: m.Outcomes}
		case KindSetupFailed:
			outstanding = removeToken(outstanding, m.Token.Case)
			events <- event{worker: options.Worker, setup: &hookFailure{node: m.Node, failure: m.Failure}}
		case KindTeardown:
			events <- event{worker: options.Worker, teardown: &hookFailure{node: m.Node, failure: m.Failure}}
		case KindDone:
			var err error
			if len(outstanding) > 0 {
				err = fmt.Errorf("%w: %d cases were never reported", ErrProtocol, len(outstanding))
			}
			events <- event{worker: options.Worker, done: true, worked: m.Worked, lost: outstanding, err: err}
			return
		default:
			lose(fmt.Errorf("%w: unexpected %s message from worker", ErrProtocol, m.Kind))
			return
		}
	}
}

func removeToken(tokens []Token, id ldspec.CaseID) []Token {
	for i, t := range tokens {
		if t.Case == id {
			return append(tokens[:i], tokens[i+1:]...)
		}
	}
	return tokens
}

// reconciler maps worker results back onto the canonical tree. It is only used from the
// coordinator's own goroutine.
type reconciler struct {
	index    *ldspec.Index
	sink     ldspec.ReportSink
	logger   framework.Logger
	tracker  *completionTracker
	tornDown map[ldspec.NodeID]bool
}

func (r *reconciler) reconcile(o ldspec.Outcome) {
	c, ok := r.index.Case(o.Case, o.Node)
	if !ok {
		r.logger.Printf("Dropping outcome for unknown case %s in %s", o.Case, o.Node)
		return
	}
	if r.tracker.isAbandoned(c.Node()) {
		r.logger.Printf("Dropping outcome for %s, whose setup failed", o.Case)
		return
	}
	if !r.finish(c, o) {
		r.logger.Printf("Dropping duplicate outcome for %s", o.Case)
	}
}

func (r *reconciler) finish(c *ldspec.Case, o ldspec.Outcome) bool {
	if !c.Apply(o) {
		return false
	}
	r.sink.CaseFinished(c.Node(), c)
	r.tracker.done(c.Node(), r.sink)
	return true
}

func (r *reconciler) fail(t Token, message string) {
	c, ok := r.index.Case(t.Case, t.Node)
	if !ok || r.tracker.isAbandoned(c.Node()) {
		return
	}
	f := ldspec.Failure{
		Slot:      ldspec.SlotCase,
		Traceback: ldspec.TracebackRecord{Message: message, Type: "parallel.ErrProtocol"},
	}
	if c.Fail(f) {
		r.sink.CaseFinished(c.Node(), c)
		r.tracker.done(c.Node(), r.sink)
	}
}

// recordSetupFailure reports a before_all failure against its node and abandons the subtree.
// Every worker that tries the hook may fail it, so only the first failure is kept, and a node
// inside an abandoned subtree is never reported.
func (r *reconciler) recordSetupFailure(h hookFailure) {
	n, ok := r.index.Node(h.node)
	if !ok {
		r.logger.Printf("Dropping setup failure for unknown node %s", h.node)
		return
	}
	if r.tracker.isAbandoned(n) {
		r.logger.Printf("Dropping repeated setup failure for %s: %s", h.node, h.failure.Traceback.Message)
		return
	}
	n.RecordHookFailure(h.failure)
	r.sink.CaseFinished(n, nil)
	r.tracker.abandon(n, r.sink)
}

// recordTeardown reports an after_all failure. Every worker that set a node up runs its
// after_all, so only the first failure for each node is kept.
func (r *reconciler) recordTeardown(t hookFailure) {
	n, ok := r.index.Node(t.node)
	if !ok {
		r.logger.Printf("Dropping teardown failure for unknown node %s", t.node)
		return
	}
	if r.tracker.isAbandoned(n) {
		r.logger.Printf("Dropping teardown failure for %s, whose setup failed", t.node)
		return
	}
	if r.tornDown[t.node] {
		r.logger.Printf("Dropping repeated teardown failure for %s: %s", t.node, t.failure.Traceback.Message)
		return
	}
	r.tornDown[t.node] = true
	n.RecordHookFailure(t.failure)
	r.sink.CaseFinished(n, nil)
}

// completionTracker emits SpecFinished for each node once all of its cases and children are done.
// Abandoned nodes never finish; to their parent they count as done.
type completionTracker struct {
	remaining map[ldspec.NodeID]int
	abandoned map[ldspec.NodeID]bool
	roots     []*ldspec.Node
}

func newCompletionTracker(roots []*ldspec.Node) *completionTracker {
	t := &completionTracker{
		remaining: make(map[ldspec.NodeID]int),
		abandoned: make(map[ldspec.NodeID]bool),
		roots:     roots,
	}
	ldspec.Walk(roots, func(n *ldspec.Node) {
		t.remaining[n.ID()] = len(n.Cases()) + len(n.Children())
	})
	return t
}

func (t *completionTracker) done(n *ldspec.Node, sink ldspec.ReportSink) {
	for n != nil {
		if t.abandoned[n.ID()] {
			return
		}
		t.remaining[n.ID()]--
		if t.remaining[n.ID()] != 0 {
			return
		}
		sink.SpecFinished(n)
		n = n.Parent()
	}
}

func (t *completionTracker) isAbandoned(n *ldspec.Node) bool {
	return t.abandoned[n.ID()]
}

// abandon marks n and everything below it as never finishing.
func (t *completionTracker) abandon(n *ldspec.Node, sink ldspec.ReportSink) {
	finished := t.remaining[n.ID()] <= 0
	ldspec.Walk([]*ldspec.Node{n}, func(d *ldspec.Node) { t.abandoned[d.ID()] = true })
	if p := n.Parent(); p != nil && !finished {
		t.done(p, sink)
	}
}

// finishEmpty finishes nodes that have nothing at all to wait for.
func (t *completionTracker) finishEmpty(sink ldspec.ReportSink) {
	var empty []*ldspec.Node
	ldspec.Walk(t.roots, func(n *ldspec.Node) {
		if len(n.Cases()) == 0 && len(n.Children()) == 0 {
			empty = append(empty, n)
		}
	})
	for _, n := range empty {
		sink.SpecFinished(n)
		if p := n.Parent(); p != nil {
			t.done(p, sink)
		}
	}
}
