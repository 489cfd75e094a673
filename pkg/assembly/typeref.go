package assembly

import (
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// TypeRef is a reference to a type as written in an assembly description,
// for example "System.Int32[]", "MyLib.Point&" or
// "System.Collections.Generic.Dictionary<System.String, MyLib.Point>".
type TypeRef struct {
	// Name is the full name of the referenced definition. Empty for array
	// and by-ref references, which carry their target in Elem.
	Name  string
	Args  []TypeRef
	Elem  *TypeRef
	Array bool
	ByRef bool
}

// TypeRefError reports a malformed type reference.
type TypeRefError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *TypeRefError) Error() string {
	return fmt.Sprintf("invalid type reference %q at %d: %s", e.Input, e.Pos, e.Msg)
}

// C# keyword aliases accepted in descriptions.
var aliases = map[string]string{
	"bool":    "System.Boolean",
	"byte":    "System.Byte",
	"sbyte":   "System.SByte",
	"short":   "System.Int16",
	"ushort":  "System.UInt16",
	"int":     "System.Int32",
	"uint":    "System.UInt32",
	"long":    "System.Int64",
	"ulong":   "System.UInt64",
	"float":   "System.Single",
	"double":  "System.Double",
	"decimal": "System.Decimal",
	"char":    "System.Char",
	"string":  "System.String",
	"object":  "System.Object",
	"void":    "System.Void",
}

// NamedRef returns a reference to the definition fullName.
func NamedRef(fullName string, args ...TypeRef) TypeRef {
	if full, ok := aliases[fullName]; ok {
		fullName = full
	}
	return TypeRef{Name: fullName, Args: args}
}

// ArrayOf returns a reference to a one-dimensional array of elem.
func ArrayOf(elem TypeRef) TypeRef {
	return TypeRef{Elem: &elem, Array: true}
}

// ByRefOf returns a by-reference reference to elem.
func ByRefOf(elem TypeRef) TypeRef {
	return TypeRef{Elem: &elem, ByRef: true}
}

// MustParseTypeRef is like ParseTypeRef but panics on error.
func MustParseTypeRef(s string) TypeRef {
	ref, err := ParseTypeRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// ParseTypeRef parses the textual form of a type reference. A trailing "?"
// is shorthand for System.Nullable<T>.
func ParseTypeRef(s string) (TypeRef, error) {
	p := &refParser{input: s}
	ref, err := p.parse()
	if err != nil {
		return TypeRef{}, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return TypeRef{}, p.errorf("unexpected %q", p.input[p.pos])
	}
	return ref, nil
}

// IsZero reports whether r references nothing.
func (r TypeRef) IsZero() bool {
	return r.Name == "" && r.Elem == nil
}

// Unwrap strips array and by-ref wrappers.
func (r TypeRef) Unwrap() TypeRef {
	for r.Elem != nil {
		r = *r.Elem
	}
	return r
}

// Generic reports whether r instantiates a generic definition.
func (r TypeRef) Generic() bool {
	return len(r.Args) > 0
}

func (r TypeRef) String() string {
	var sb strings.Builder
	r.write(&sb)
	return sb.String()
}

func (r TypeRef) write(sb *strings.Builder) {
	if r.Elem != nil {
		r.Elem.write(sb)
		switch {
		case r.Array:
			sb.WriteString("[]")
		case r.ByRef:
			sb.WriteString("&")
		}
		return
	}

	sb.WriteString(r.Name)
	if len(r.Args) == 0 {
		return
	}
	sb.WriteByte('<')
	for i, arg := range r.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		arg.write(sb)
	}
	sb.WriteByte('>')
}

// UnmarshalYAML decodes a type reference from its string form.
func (r *TypeRef) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*r = TypeRef{}
		return nil
	}

	ref, err := ParseTypeRef(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*r = ref
	return nil
}

// MarshalYAML encodes a type reference as its string form.
func (r TypeRef) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

type refParser struct {
	input string
	pos   int
}

func (p *refParser) parse() (TypeRef, error) {
	p.skipSpace()
	name := p.name()
	if name == "" {
		return TypeRef{}, p.errorf("expected type name")
	}
	ref := NamedRef(name)

	p.skipSpace()
	if p.peek('<') {
		p.pos++
		for {
			arg, err := p.parse()
			if err != nil {
				return TypeRef{}, err
			}
			ref.Args = append(ref.Args, arg)

			p.skipSpace()
			if p.peek(',') {
				p.pos++
				continue
			}
			if p.peek('>') {
				p.pos++
				break
			}
			return TypeRef{}, p.errorf("expected ',' or '>'")
		}
	}

	p.skipSpace()
	if p.peek('?') {
		p.pos++
		ref = NamedRef("System.Nullable", ref)
	}

	for {
		p.skipSpace()
		switch {
		case strings.HasPrefix(p.input[p.pos:], "[]"):
			p.pos += 2
			ref = ArrayOf(ref)
		case p.peek('&'):
			p.pos++
			ref = ByRefOf(ref)
		default:
			return ref, nil
		}
	}
}

func (p *refParser) name() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if c == '.' || c == '+' || c == '_' || c == '`' || unicode.IsLetter(c) || unicode.IsDigit(c) {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *refParser) peek(c byte) bool {
	return p.pos < len(p.input) && p.input[p.pos] == c
}

func (p *refParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *refParser) errorf(format string, args ...interface{}) error {
	return &TypeRefError{Input: p.input, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}
