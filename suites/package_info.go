// Package suites contains the spec definitions that the harness binary runs.
//
// Each file defines one or more root specs as package variables and registers them in All.
// The definitions must be identical in every process of a run, since process-pool workers
// rebuild the same tree from them.
package suites
