package ldspec

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/exp/slices"
)

// RegexFilters selects cases by path. A case is kept if it matches at least one MustMatch
// pattern (or there are none) and no MustNotMatch pattern.
type RegexFilters struct {
	MustMatch    PathPatternList
	MustNotMatch PathPatternList
}

func (r RegexFilters) Match(p Path) bool {
	return (!r.MustMatch.IsDefined() || r.MustMatch.AnyMatch(p, true)) &&
		!r.MustNotMatch.AnyMatch(p, false)
}

func (r RegexFilters) IsDefined() bool {
	return r.MustMatch.IsDefined() || r.MustNotMatch.IsDefined()
}

// PathPattern is a list of regexes, one per path component. A pattern shorter than a path
// matches every path under it.
type PathPattern []*regexp.Regexp

func (p PathPattern) Match(path Path, includeParents bool) bool {
	n := len(p)
	if n > len(path) {
		if !includeParents {
			return false
		}
		n = len(path)
	}
	for i := 0; i < n; i++ {
		if !p[i].MatchString(path[i]) {
			return false
		}
	}
	return true
}

func (p PathPattern) String() string {
	ss := make([]string, 0, len(p))
	for _, c := range p {
		ss = append(ss, c.String())
	}
	return strings.Join(ss, "/")
}

// ParsePathPattern parses a slash-separated list of regexes.
func ParsePathPattern(s string) (PathPattern, error) {
	parts := strings.Split(s, "/")
	ret := make(PathPattern, 0, len(parts))
	for _, part := range parts {
		rx, err := regexp.Compile(part)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		ret = append(ret, rx)
	}
	return ret, nil
}

// PathPatternList can be used directly as a flag.Value; each use of the flag adds a pattern.
type PathPatternList []PathPattern

func (l PathPatternList) String() string {
	ss := make([]string, 0, len(l))
	for _, p := range l {
		ss = append(ss, `"`+p.String()+`"`)
	}
	return strings.Join(ss, " or ")
}

// Set is called by the command line parser
func (l *PathPatternList) Set(value string) error {
	p, err := ParsePathPattern(value)
	if err != nil {
		return err
	}
	*l = append(*l, p)
	return nil
}

func (l PathPatternList) IsDefined() bool {
	return len(l) != 0
}

func (l PathPatternList) AnyMatch(p Path, includeParents bool) bool {
	for _, pattern := range l {
		if pattern.Match(p, includeParents) {
			return true
		}
	}
	return false
}

// Selection narrows a built tree down to the cases that should run.
type Selection struct {
	// Module keeps only specs whose qualified name contains this substring. If no root matches,
	// the search continues into child specs at any depth.
	Module string

	// TestNames keeps only cases with one of these exact names or pretty names.
	TestNames []string

	// Include keeps only cases whose metadata has at least one of these key/value pairs.
	Include Metadata

	// Exclude drops cases whose metadata has any of these key/value pairs.
	Exclude Metadata

	// Paths filters cases by their path.
	Paths RegexFilters
}

func (s Selection) IsDefined() bool {
	return s.Module != "" || len(s.TestNames) != 0 || len(s.Include) != 0 ||
		len(s.Exclude) != 0 || s.Paths.IsDefined()
}

// String describes the selection, for reports.
func (s Selection) String() string {
	var parts []string
	if s.Module != "" {
		parts = append(parts, fmt.Sprintf("module %q", s.Module))
	}
	if len(s.TestNames) != 0 {
		parts = append(parts, "names "+strings.Join(s.TestNames, ","))
	}
	if len(s.Include) != 0 {
		parts = append(parts, "include "+describeMetadata(s.Include))
	}
	if len(s.Exclude) != 0 {
		parts = append(parts, "exclude "+describeMetadata(s.Exclude))
	}
	if s.Paths.MustMatch.IsDefined() {
		parts = append(parts, "matching "+s.Paths.MustMatch.String())
	}
	if s.Paths.MustNotMatch.IsDefined() {
		parts = append(parts, "not matching "+s.Paths.MustNotMatch.String())
	}
	if len(parts) == 0 {
		return "everything"
	}
	return strings.Join(parts, "; ")
}

// MatchCase applies the name, metadata, and path criteria to one case.
func (s Selection) MatchCase(c *Case) bool {
	if len(s.TestNames) != 0 && !slices.Contains(s.TestNames, c.name) &&
		!slices.Contains(s.TestNames, c.PrettyName()) {
		return false
	}
	if len(s.Include) != 0 && !c.hasAnyMetadata(s.Include) {
		return false
	}
	if c.hasAnyMetadata(s.Exclude) {
		return false
	}
	return s.Paths.Match(c.Path())
}

func (c *Case) hasAnyMetadata(m Metadata) bool {
	for k, v := range m {
		if actual, ok := c.metadata[k]; ok && actual.Equal(v) {
			return true
		}
	}
	return false
}

// Prune returns the roots that still have something to run after applying the selection.
// Cases that do not match are removed from their nodes, and nodes left with no cases and no
// children are removed from the tree.
func Prune(roots []*Node, sel Selection) []*Node {
	if sel.Module != "" {
		roots = selectModule(roots, sel.Module)
	}
	return pruneCases(roots, sel)
}

func pruneCases(nodes []*Node, sel Selection) []*Node {
	var kept []*Node
	for _, n := range nodes {
		var cases []*Case
		for _, c := range n.cases {
			if sel.MatchCase(c) {
				cases = append(cases, c)
			}
		}
		n.cases = cases
		n.children = pruneCases(n.children, sel)
		if len(n.cases) != 0 || len(n.children) != 0 {
			kept = append(kept, n)
		}
	}
	return kept
}

// selectModule keeps the matching roots. If there are none, it keeps the shallowest matching
// descendants along with the chain of ancestors leading to them; those ancestors lose their
// own cases.
func selectModule(roots []*Node, module string) []*Node {
	var matched []*Node
	for _, n := range roots {
		if strings.Contains(n.qualifiedName, module) {
			matched = append(matched, n)
		}
	}
	if len(matched) != 0 {
		return matched
	}
	for _, n := range roots {
		if descendantsMatching(n, module) {
			matched = append(matched, n)
		}
	}
	return matched
}

func descendantsMatching(n *Node, module string) bool {
	var children []*Node
	for _, child := range n.children {
		if strings.Contains(child.qualifiedName, module) || descendantsMatching(child, module) {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return false
	}
	n.cases = nil
	n.children = children
	return true
}

func describeMetadata(m Metadata) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k].JSONString())
	}
	return strings.Join(parts, ",")
}
