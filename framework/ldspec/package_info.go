// Package ldspec is the spec tree execution engine.
//
// Specs are declared as Def values: a named group with lifecycle hooks (before_all,
// before_each, after_each, after_all), case templates, an optional dataset that expands the
// templates into data-driven cases, and nested child definitions. Build turns a set of root
// definitions into a tree of Node and Case values with stable, deterministic IDs.
//
// A Scheduler then walks the tree. Each node runs its before_all hook, then all of its direct
// cases and child nodes concurrently (bounded by concurrency gates that can be overridden at any
// level of the tree), then its after_all hook. Every hook and case body runs inside a Classifier,
// which turns panics and returned errors into Failure records attached to the case or node, so
// that nothing thrown by user code can disturb the scheduler itself.
//
// Results are streamed to a ReportSink as they happen. ResultsSink accumulates the totals that
// decide the overall outcome of the run; ConsoleSink and JUnitSink render it.
//
// Case bodies receive a *T, which is the handle that assertions are attached to. *T implements
// the testify TestingT interfaces so that assert and require can be used in bodies as well as
// the matchers package.
package ldspec
