// Package framework contains the low-level infrastructure shared by the spec harness: the
// Logger abstraction and the capturing logger that records per-case debug output.
//
// The general model is:
//
// 1. Specs are declared as trees of definitions (see the ldspec subpackage). Each tree is
// built into nodes and cases before anything runs.
//
// 2. A scheduler walks the tree concurrently, running hooks and case bodies under
// concurrency gates, and streams results to one or more report sinks.
//
// 3. Optionally, the parallel subpackage spreads case execution over worker processes and
// reconciles their outcomes back into the same tree.
//
// The code that knows what is being tested provides the definitions. Everything else here is
// independent of any particular system under test.
package framework
