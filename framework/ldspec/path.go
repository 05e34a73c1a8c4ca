package ldspec

import "strings"

// Path is the list of names from a root node down to a node or case. It is the unit that
// regex filters match against.
type Path []string

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Plus returns a new Path with one more component.
func (p Path) Plus(name string) Path {
	return append(append(Path(nil), p...), name)
}
