package proxy

import (
	"github.com/3FT-io/sidecar/pkg/assembly"
)

// LookupFunc resolves a full type name.
type LookupFunc func(fullName string) (*assembly.Type, bool)

// Entry is one type of a TypeMap with the members whose types resolved.
type Entry struct {
	Type    *assembly.Type
	Members []*assembly.Member
}

// TypeMap is the closure of types reachable from an assembly, in
// depth-first discovery order.
type TypeMap struct {
	Entries []*Entry

	index  map[*assembly.Type]*Entry
	lookup LookupFunc
}

// BuildTypeMap walks every type of asm and everything reachable from it
// through property, field, parameter and return types and generic
// arguments. Array and by-ref references count as their element type.
// Filtered types end the walk; members and methods with a type that does
// not resolve are dropped.
func BuildTypeMap(asm *assembly.Assembly, lookup LookupFunc) *TypeMap {
	m := &TypeMap{
		index:  make(map[*assembly.Type]*Entry),
		lookup: lookup,
	}
	visited := make(map[*assembly.Type]bool)

	var visitType func(t *assembly.Type)
	var visitRef func(ref assembly.TypeRef) bool

	visitRef = func(ref assembly.TypeRef) bool {
		ref = ref.Unwrap()
		t, ok := m.resolve(ref)
		if !ok {
			return false
		}
		for _, arg := range ref.Args {
			if !visitRef(arg) {
				return false
			}
		}
		visitType(t)
		return true
	}

	visitType = func(t *assembly.Type) {
		if visited[t] {
			return
		}
		visited[t] = true
		if Filtered(t) {
			return
		}

		e := &Entry{Type: t}
		m.Entries = append(m.Entries, e)
		m.index[t] = e

		for _, member := range t.Members {
			switch member.Kind {
			case assembly.MemberProperty, assembly.MemberField:
				if visitRef(member.Type) {
					e.Members = append(e.Members, member)
				}
			case assembly.MemberMethod:
				ok := member.Type.IsZero() || visitRef(member.Type)
				for _, p := range member.Parameters {
					ok = visitRef(p.Type) && ok
				}
				if ok {
					e.Members = append(e.Members, member)
				}
			}
		}
	}

	for _, t := range asm.Types {
		visitType(t)
	}
	return m
}

// Lookup returns the entry of t.
func (m *TypeMap) Lookup(t *assembly.Type) (*Entry, bool) {
	e, ok := m.index[t]
	return e, ok
}

// Exported returns the entries eligible for emission, in map order.
func (m *TypeMap) Exported() []*Entry {
	out := make([]*Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if Exportable(e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func (m *TypeMap) resolve(ref assembly.TypeRef) (*assembly.Type, bool) {
	if ref.Name == "" {
		return nil, false
	}
	return m.lookup(ref.Name)
}

// emitted reports whether t is declared by the generated output.
func (m *TypeMap) emitted(t *assembly.Type) bool {
	_, ok := m.index[t]
	return ok && Exportable(t)
}
