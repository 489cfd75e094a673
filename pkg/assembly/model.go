// Package assembly describes managed assemblies as explicit metadata and
// keeps the registry of package assemblies known to the server.
package assembly

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrAssemblyNotFound is returned when no assembly is registered under a name.
var ErrAssemblyNotFound = errors.New("assembly not found")

// TypeKind classifies a type definition.
type TypeKind string

const (
	KindClass     TypeKind = "class"
	KindStruct    TypeKind = "struct"
	KindInterface TypeKind = "interface"
	KindEnum      TypeKind = "enum"
	KindDelegate  TypeKind = "delegate"
	KindPrimitive TypeKind = "primitive"
)

func (k TypeKind) valid() bool {
	switch k {
	case KindClass, KindStruct, KindInterface, KindEnum, KindDelegate, KindPrimitive:
		return true
	}
	return false
}

// MemberKind classifies a type member.
type MemberKind string

const (
	MemberProperty MemberKind = "property"
	MemberField    MemberKind = "field"
	MemberMethod   MemberKind = "method"
)

func (k MemberKind) valid() bool {
	switch k {
	case MemberProperty, MemberField, MemberMethod:
		return true
	}
	return false
}

// Assembly is the metadata of one managed assembly.
type Assembly struct {
	Name     string  `yaml:"name"`
	ModuleID string  `yaml:"module_id,omitempty"`
	Location string  `yaml:"location,omitempty"`
	Types    []*Type `yaml:"types"`

	once  sync.Once
	index map[string]*Type
}

// Type is a type definition. Members and Values keep declaration order.
type Type struct {
	Namespace         string      `yaml:"namespace,omitempty"`
	Name              string      `yaml:"name"`
	Kind              TypeKind    `yaml:"kind"`
	Origin            string      `yaml:"origin,omitempty"`
	Abstract          bool        `yaml:"abstract,omitempty"`
	Static            bool        `yaml:"static,omitempty"`
	Generic           bool        `yaml:"generic,omitempty"`
	NestedPrivate     bool        `yaml:"nested_private,omitempty"`
	CompilerGenerated bool        `yaml:"compiler_generated,omitempty"`
	NonSerialized     bool        `yaml:"non_serialized,omitempty"`
	Members           []*Member   `yaml:"members,omitempty"`
	Values            []EnumValue `yaml:"values,omitempty"`
}

// Member is a property, field or method of a type. For methods Type is
// the return type; a zero Type means void.
type Member struct {
	Name          string      `yaml:"name"`
	Kind          MemberKind  `yaml:"kind"`
	Type          TypeRef     `yaml:"type,omitempty"`
	ReadOnly      bool        `yaml:"readonly,omitempty"`
	WriteOnly     bool        `yaml:"writeonly,omitempty"`
	Static        bool        `yaml:"static,omitempty"`
	Generic       bool        `yaml:"generic,omitempty"`
	Accessor      bool        `yaml:"accessor,omitempty"`
	DeclaringType string      `yaml:"declaring_type,omitempty"`
	Parameters    []Parameter `yaml:"parameters,omitempty"`
}

// Parameter is a method parameter.
type Parameter struct {
	Name string  `yaml:"name"`
	Type TypeRef `yaml:"type"`
}

// EnumValue is one named constant of an enum. A nil Value continues from
// the previous constant.
type EnumValue struct {
	Name  string `yaml:"name"`
	Value *int64 `yaml:"value,omitempty"`
}

// FullName returns the namespace-qualified name of t.
func (t *Type) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsClassLike reports whether t is emitted as an interface and class.
func (t *Type) IsClassLike() bool {
	return t.Kind == KindClass || t.Kind == KindStruct || t.Kind == KindInterface
}

// EnumConstants resolves the numeric value of every enum constant.
func (t *Type) EnumConstants() []int64 {
	out := make([]int64, len(t.Values))
	var next int64
	for i, v := range t.Values {
		if v.Value != nil {
			next = *v.Value
		}
		out[i] = next
		next++
	}
	return out
}

// CanRead reports whether a property or field can be read.
func (m *Member) CanRead() bool {
	return !m.WriteOnly
}

// CanWrite reports whether a property or field can be assigned.
func (m *Member) CanWrite() bool {
	return !m.ReadOnly
}

// IsAccessor reports whether m is a compiler-generated property accessor.
func (m *Member) IsAccessor() bool {
	return m.Accessor || strings.HasPrefix(m.Name, "get_") || strings.HasPrefix(m.Name, "set_")
}

// Returns reports whether a method returns a value.
func (m *Member) Returns() bool {
	return !m.Type.IsZero() && m.Type.Name != "System.Void"
}

// Identity returns the value packages of this assembly are keyed by.
func (a *Assembly) Identity() string {
	a.prepare()
	return a.ModuleID
}

// Lookup finds a type defined by this assembly by full name.
func (a *Assembly) Lookup(fullName string) (*Type, bool) {
	a.prepare()
	t, ok := a.index[fullName]
	return t, ok
}

// Validate checks names and kinds and rejects duplicate type names.
func (a *Assembly) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("assembly name is required")
	}
	if a.ModuleID != "" {
		if _, err := uuid.Parse(a.ModuleID); err != nil {
			return fmt.Errorf("assembly %s: invalid module_id: %w", a.Name, err)
		}
	}

	seen := make(map[string]bool, len(a.Types))
	for _, t := range a.Types {
		if t == nil || t.Name == "" {
			return fmt.Errorf("assembly %s: type without a name", a.Name)
		}
		if !t.Kind.valid() {
			return fmt.Errorf("assembly %s: type %s has invalid kind %q", a.Name, t.FullName(), t.Kind)
		}
		if seen[t.FullName()] {
			return fmt.Errorf("assembly %s: duplicate type %s", a.Name, t.FullName())
		}
		seen[t.FullName()] = true

		for _, m := range t.Members {
			if m == nil || m.Name == "" {
				return fmt.Errorf("assembly %s: type %s has a member without a name", a.Name, t.FullName())
			}
			if !m.Kind.valid() {
				return fmt.Errorf("assembly %s: member %s.%s has invalid kind %q", a.Name, t.FullName(), m.Name, m.Kind)
			}
		}
	}
	return nil
}

// prepare fills defaults derived from the description: the origin of each
// type, the type index and the module id.
func (a *Assembly) prepare() {
	a.once.Do(func() {
		a.index = make(map[string]*Type, len(a.Types))
		for _, t := range a.Types {
			if t.Origin == "" {
				t.Origin = a.Name
			}
			a.index[t.FullName()] = t
		}
		if a.ModuleID == "" {
			a.ModuleID = deriveModuleID(a).String()
		} else if id, err := uuid.Parse(a.ModuleID); err == nil {
			a.ModuleID = id.String()
		}
	})
}
