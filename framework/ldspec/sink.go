package ldspec

import (
	"errors"

	"github.com/launchdarkly/spec-harness/framework"
)

// ReportSink receives progress events. Calls arrive concurrently and out of order from
// different branches of the tree.
//
// CaseFinished is called once per case. It is also called with a nil case when a node's
// before_all or after_all fails; the failure is in n.HookFailures().
type ReportSink interface {
	TrackSpec(n *Node)
	CaseFinished(n *Node, c *Case)
	SpecFinished(n *Node)
}

// RunEnder is implemented by sinks that produce something once the whole run is over.
type RunEnder interface {
	EndRun(results Results) error
}

// MultiSink sends every event to each of its sinks in turn.
type MultiSink struct {
	Sinks []ReportSink
}

func (m MultiSink) TrackSpec(n *Node) {
	for _, s := range m.Sinks {
		s.TrackSpec(n)
	}
}

func (m MultiSink) CaseFinished(n *Node, c *Case) {
	for _, s := range m.Sinks {
		s.CaseFinished(n, c)
	}
}

func (m MultiSink) SpecFinished(n *Node) {
	for _, s := range m.Sinks {
		s.SpecFinished(n)
	}
}

// EndRun calls EndRun on every sink that implements RunEnder and combines their errors.
func (m MultiSink) EndRun(results Results) error {
	var errs []error
	for _, s := range m.Sinks {
		if e, ok := s.(RunEnder); ok {
			if err := e.EndRun(results); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// EndRun calls sink.EndRun if the sink implements RunEnder.
func EndRun(sink ReportSink, results Results) error {
	if e, ok := sink.(RunEnder); ok {
		return e.EndRun(results)
	}
	return nil
}

type nullSink struct{}

func (nullSink) TrackSpec(*Node)           {}
func (nullSink) CaseFinished(*Node, *Case) {}
func (nullSink) SpecFinished(*Node)        {}

// protectedSink keeps a misbehaving sink from panicking into the scheduler.
type protectedSink struct {
	sink   ReportSink
	logger framework.Logger
}

// Protect wraps a sink so that a panic in any of its methods is logged and discarded.
func Protect(sink ReportSink, logger framework.Logger) ReportSink {
	if sink == nil {
		sink = nullSink{}
	}
	return protectedSink{sink: sink, logger: framework.OrNullLogger(logger)}
}

// ProtectEach protects every sink separately, so a sink that panics cannot keep the events from
// reaching the ones after it.
func ProtectEach(logger framework.Logger, sinks ...ReportSink) MultiSink {
	ret := MultiSink{Sinks: make([]ReportSink, 0, len(sinks))}
	for _, s := range sinks {
		ret.Sinks = append(ret.Sinks, Protect(s, logger))
	}
	return ret
}

func (p protectedSink) guard(event string) {
	if r := recover(); r != nil {
		p.logger.Printf("report sink panicked in %s: %v", event, r)
	}
}

func (p protectedSink) TrackSpec(n *Node) {
	defer p.guard("TrackSpec")
	p.sink.TrackSpec(n)
}

func (p protectedSink) CaseFinished(n *Node, c *Case) {
	defer p.guard("CaseFinished")
	p.sink.CaseFinished(n, c)
}

func (p protectedSink) SpecFinished(n *Node) {
	defer p.guard("SpecFinished")
	p.sink.SpecFinished(n)
}

func (p protectedSink) EndRun(results Results) error {
	return EndRun(p.sink, results)
}
