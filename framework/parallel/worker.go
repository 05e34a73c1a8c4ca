package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/launchdarkly/spec-harness/framework"
	"github.com/launchdarkly/spec-harness/framework/ldspec"
)

// ServeWorker runs the worker side of the protocol until the coordinator sends stop. It builds
// its own copy of the tree from defs, so the definitions must be the same ones the coordinator
// built its tree from.
//
// Each before_all hook runs at most once per worker, the first time a case below its node is
// assigned here. If it fails, that case and every later one below the node is answered with a
// setup_failed message instead of an outcome. Workers run after_all for every node they set up
// once their share of the work is done, innermost nodes first.
func ServeWorker(ctx context.Context, defs []*ldspec.Def, in io.Reader, out io.Writer, logger framework.Logger) error {
	reader := newMessageReader(in)
	writer := messageWriter{w: out}

	m, err := reader.next()
	if err != nil {
		return unexpectedEnd(err)
	}
	if m.Kind != KindStart {
		return fmt.Errorf("%w: expected %s message, got %s", ErrProtocol, KindStart, m.Kind)
	}
	roots, err := ldspec.Build(defs, ldspec.BuildOptions{Dedupe: m.Start.Dedupe})
	if err != nil {
		return err
	}
	logger = framework.LoggerWithPrefix(framework.OrNullLogger(logger), fmt.Sprintf("[worker %d] ", m.Start.Worker))
	w := &worker{
		options:    m.Start,
		index:      ldspec.NewIndex(roots),
		classifier: ldspec.Classifier{DebugLogger: logger},
		writer:     writer,
		logger:     logger,
		visited:    make(map[ldspec.NodeID]*ldspec.Failure),
		lastFlush:  time.Now(),
	}
	logger.Printf("Started with %d cases known", w.index.CaseCount())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.send(Message{Kind: KindReady}); err != nil {
			return err
		}
		m, err := reader.next()
		if err != nil {
			return unexpectedEnd(err)
		}
		switch m.Kind {
		case KindCase:
			if err := w.run(m.Token); err != nil {
				return err
			}
			if time.Since(w.lastFlush) >= w.options.FlushInterval {
				if err := w.flush(); err != nil {
					return err
				}
			}
		case KindStop:
			if err := w.flush(); err != nil {
				return err
			}
			if err := w.teardown(); err != nil {
				return err
			}
			logger.Printf("Finished after %d cases", w.worked)
			return writer.send(Message{Kind: KindDone, Worked: w.worked})
		default:
			return fmt.Errorf("%w: unexpected %s message", ErrProtocol, m.Kind)
		}
	}
}

func unexpectedEnd(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: input closed before stop", ErrProtocol)
	}
	return err
}

type worker struct {
	options    StartOptions
	index      *ldspec.Index
	classifier ldspec.Classifier
	writer     messageWriter
	logger     framework.Logger

	// visited holds the before_all result for every node this worker has tried to set up.
	visited   map[ldspec.NodeID]*ldspec.Failure
	setUp     []*ldspec.Node
	batch     []ldspec.Outcome
	lastFlush time.Time
	worked    int
}

func (w *worker) run(token Token) error {
	w.worked++
	c, ok := w.index.Case(token.Case, token.Node)
	if !ok {
		w.logger.Printf("Unknown case %s in %s", token.Case, token.Node)
		w.batch = append(w.batch, ldspec.Outcome{
			Case: token.Case,
			Node: token.Node,
			Failures: []ldspec.Failure{{
				Slot: ldspec.SlotCase,
				Traceback: ldspec.TracebackRecord{
					Message: fmt.Sprintf("case %q is not defined in worker %d", token.Case, w.options.Worker),
					Type:    "parallel.ErrProtocol",
				},
			}},
		})
		return nil
	}
	n := c.Node()
	if failed, f := w.setUpAncestors(n); f != nil {
		return w.writer.send(Message{Kind: KindSetupFailed, Token: token, Node: failed.ID(), Failure: *f})
	}
	ldspec.ExecuteCase(w.classifier, ldspec.NewScope(n), c, w.options.DryRun)
	w.batch = append(w.batch, c.Outcome())
	return nil
}

// setUpAncestors runs every before_all between the root and n that this worker has not run yet,
// and returns the first node along the chain whose hook failed.
func (w *worker) setUpAncestors(n *ldspec.Node) (*ldspec.Node, *ldspec.Failure) {
	for _, a := range n.Ancestors() {
		f, seen := w.visited[a.ID()]
		if !seen {
			if !w.options.DryRun {
				f = w.classifier.RunHook(ldspec.SlotBeforeAll, a.Hook(ldspec.SlotBeforeAll), ldspec.NewScope(a))
			}
			w.visited[a.ID()] = f
			if f == nil {
				w.setUp = append(w.setUp, a)
			}
		}
		if f != nil {
			return a, f
		}
	}
	return nil, nil
}

func (w *worker) flush() error {
	w.lastFlush = time.Now()
	if len(w.batch) == 0 {
		return nil
	}
	err := w.writer.send(Message{Kind: KindBatch, Outcomes: w.batch})
	w.batch = nil
	return err
}

func (w *worker) teardown() error {
	if w.options.DryRun {
		return nil
	}
	for i := len(w.setUp) - 1; i >= 0; i-- {
		n := w.setUp[i]
		f := w.classifier.RunHook(ldspec.SlotAfterAll, n.Hook(ldspec.SlotAfterAll), ldspec.NewScope(n))
		if f == nil {
			continue
		}
		if err := w.writer.send(Message{Kind: KindTeardown, Node: n.ID(), Failure: *f}); err != nil {
			return err
		}
	}
	return nil
}
