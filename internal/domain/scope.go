package domain

import "fmt"

// Scope is a hierarchical variable environment (spec C2). get walks the
// parent chain; set writes to the local scope only. Parent scopes are
// treated as frozen once execution descends past their creating node, so
// reads from a parent never race with the parent's own writer.
type Scope struct {
	vars   *VariableSet
	parent *Scope
}

// NewRootScope creates the run's root scope, seeded with the invocation's
// "input" variable.
func NewRootScope(input map[string]any) *Scope {
	s := &Scope{vars: NewVariableSet(nil)}
	if input != nil {
		_ = s.vars.Set("input", input)
	}
	return s
}

// Child opens a new scope whose parent is s. Each composite node and each
// loop iteration opens one.
func (s *Scope) Child() *Scope {
	return &Scope{vars: NewVariableSet(nil), parent: s}
}

// Get walks the scope chain, returning the first match. A child's value
// shadows a parent's value of the same name.
func (s *Scope) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes to this scope only; it never mutates an ancestor.
func (s *Scope) Set(name string, value any) error {
	return s.vars.Set(name, value)
}

// Has reports whether name is visible from this scope (local or inherited).
func (s *Scope) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Delete removes name from this scope only.
func (s *Scope) Delete(name string) {
	s.vars.Delete(name)
}

// Keys returns the names visible from this scope, local names taking
// precedence over same-named ancestors.
func (s *Scope) Keys() []string {
	seen := map[string]struct{}{}
	var keys []string
	for cur := s; cur != nil; cur = cur.parent {
		for k := range cur.vars.All() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// Snapshot returns a flattened view of every variable visible from this
// scope (used to seed an expr-lang environment and to freeze state on
// suspension).
func (s *Scope) Snapshot() map[string]any {
	out := map[string]any{}
	chain := []*Scope{}
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	// Walk root-to-leaf so child values override ancestors.
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars.All() {
			out[k] = v
		}
	}
	return out
}

// ScopeArena owns every Scope created during a single run and frees them
// in one shot at run end: handles index into a flat slice rather than a
// pointer graph the GC has to trace incrementally.
type ScopeArena struct {
	scopes []*Scope
}

// NewScopeArena creates an arena seeded with a root scope.
func NewScopeArena(input map[string]any) (*ScopeArena, ScopeHandle) {
	a := &ScopeArena{}
	root := NewRootScope(input)
	a.scopes = append(a.scopes, root)
	return a, ScopeHandle(0)
}

// ScopeHandle is an opaque index into a ScopeArena.
type ScopeHandle int

// Child opens a child of the scope at parent and returns its handle.
func (a *ScopeArena) Child(parent ScopeHandle) (ScopeHandle, error) {
	p, err := a.Get(parent)
	if err != nil {
		return 0, err
	}
	a.scopes = append(a.scopes, p.Child())
	return ScopeHandle(len(a.scopes) - 1), nil
}

// Get resolves a handle to its Scope.
func (a *ScopeArena) Get(h ScopeHandle) (*Scope, error) {
	if int(h) < 0 || int(h) >= len(a.scopes) {
		return nil, fmt.Errorf("scope handle %d out of range", h)
	}
	return a.scopes[h], nil
}

// Release drops every scope in the arena. Call once at run end.
func (a *ScopeArena) Release() {
	a.scopes = nil
}
