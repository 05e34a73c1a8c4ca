package ldspec

import (
	"fmt"
	"sync"
)

// Registry is the discovery collaborator: the list of root definitions a program knows about,
// in registration order.
type Registry struct {
	lock  sync.Mutex
	defs  []*Def
	names map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds root definitions. A qualified name can only be registered once.
func (r *Registry) Register(defs ...*Def) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, d := range defs {
		if d == nil {
			return &DiscoveryError{Err: errNilDef}
		}
		name := d.QualifiedName()
		if r.names[name] {
			return &DiscoveryError{Path: name, Err: fmt.Errorf("spec %q is already registered", name)}
		}
		r.names[name] = true
		r.defs = append(r.defs, d)
	}
	return nil
}

// MustRegister is Register for use in package initialization. It panics on error.
func (r *Registry) MustRegister(defs ...*Def) {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
}

// Defs returns every registered definition, fixtures included.
func (r *Registry) Defs() []*Def {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*Def(nil), r.defs...)
}

// Roots returns the registered definitions that run by themselves.
func (r *Registry) Roots() []*Def {
	var ret []*Def
	for _, d := range r.Defs() {
		if !d.Fixture {
			ret = append(ret, d)
		}
	}
	return ret
}

// Discover builds the registered trees and applies the selection.
func (r *Registry) Discover(sel Selection, opts BuildOptions) ([]*Node, error) {
	roots, err := Build(r.Defs(), opts)
	if err != nil {
		return nil, err
	}
	return Prune(roots, sel), nil
}
