package ldspec

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/spec-harness/framework/opt"
)

// Hook is a lifecycle callback. A nil Hook does nothing. Returning a non-nil error, or
// panicking, is a hook failure.
type Hook func(s *Scope) error

// Metadata is a set of key/value tags attached to nodes and cases. It is used for selection,
// never for ordering.
type Metadata map[string]ldvalue.Value

// Args holds the resolved keyword arguments of a case.
type Args map[string]ldvalue.Value

// Def declares a spec node. Defs are plain values assembled by the code that registers specs;
// Build turns them into Nodes.
type Def struct {
	// Name is required and must be unique among siblings.
	Name string

	// Package qualifies the name for module filtering, like a Go import path.
	Package string

	Doc string

	// Metadata holds defaults that every case of this node inherits.
	Metadata Metadata

	// Fixture marks a definition that is never run by itself. It exists to be used as the
	// Base of other definitions.
	Fixture bool

	// Base is a definition whose hooks, cases, dataset, and metadata this one inherits. Anything
	// declared on this definition takes precedence.
	Base *Def

	// CaseConcurrency bounds how many cases may run at once in this node and its descendants.
	CaseConcurrency opt.Maybe[int]

	// SpecConcurrency bounds how many node hooks (before_all/after_all) may run at once in this
	// subtree.
	SpecConcurrency opt.Maybe[int]

	BeforeAll  Hook
	BeforeEach Hook
	AfterEach  Hook
	AfterAll   Hook

	Cases []CaseTemplate

	// Dataset, if non-empty, expands every case template into one case per entry.
	Dataset Dataset

	Children []*Def
}

// QualifiedName is the package-qualified name used by module filters.
func (d *Def) QualifiedName() string {
	if d.Package == "" {
		return d.Name
	}
	return d.Package + "." + d.Name
}

// Param declares one argument of a case template, with its default value.
type Param struct {
	Name    string
	Default ldvalue.Value
}

// CaseTemplate declares a case. Without a dataset it becomes exactly one case; with a dataset
// it becomes one case per entry.
type CaseTemplate struct {
	Name       string
	Doc        string
	Body       func(t *T)
	Params     []Param
	Metadata   Metadata
	Skip       bool
	SkipReason string
	Incomplete bool
}

// DatasetEntry is the argument set and extra metadata for one data-driven case.
type DatasetEntry struct {
	Args Args
	Meta Metadata
}

// Dataset maps a case name suffix to an entry.
type Dataset map[string]DatasetEntry

var hookNames = map[string]bool{
	"before_all":  true,
	"before_each": true,
	"after_each":  true,
	"after_all":   true,
}

// isCaseName reports whether a template name identifies a runnable case. Hook names and names
// starting with an underscore are reserved.
func isCaseName(name string) bool {
	return name != "" && !hookNames[name] && name[0] != '_'
}
