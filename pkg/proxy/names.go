package proxy

import (
	"strings"
	"unicode"

	"github.com/3FT-io/sidecar/pkg/assembly"
)

// ToCamelCase lowercases the leading run of upper-case letters, keeping
// the last one when it starts a new word: "ID" becomes "id", "URLValue"
// becomes "urlValue" and "Add" becomes "add".
func ToCamelCase(s string) string {
	runes := []rune(s)
	if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
		return s
	}

	for i := 0; i < len(runes); i++ {
		if i == 1 && !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && !unicode.IsUpper(runes[i+1]) {
			if unicode.IsSpace(runes[i+1]) {
				runes[i] = unicode.ToLower(runes[i])
			}
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

var numeric = map[string]bool{
	"System.Byte":    true,
	"System.SByte":   true,
	"System.Int16":   true,
	"System.UInt16":  true,
	"System.Int32":   true,
	"System.UInt32":  true,
	"System.Int64":   true,
	"System.UInt64":  true,
	"System.Single":  true,
	"System.Double":  true,
	"System.Decimal": true,
	"System.IntPtr":  true,
	"System.UIntPtr": true,
}

var typedArrays = map[string]string{
	"System.Byte":   "Uint8Array",
	"System.SByte":  "Int8Array",
	"System.UInt16": "Uint16Array",
	"System.Int16":  "Int16Array",
	"System.UInt32": "Uint32Array",
	"System.Int32":  "Int32Array",
	"System.UInt64": "BigUint64Array",
	"System.Int64":  "BigInt64Array",
	"System.Single": "Float32Array",
	"System.Double": "Float64Array",
}

var sequences = map[string]bool{
	"System.Collections.Generic.IEnumerable":         true,
	"System.Collections.Generic.ICollection":         true,
	"System.Collections.Generic.IList":               true,
	"System.Collections.Generic.IReadOnlyCollection": true,
	"System.Collections.Generic.IReadOnlyList":       true,
	"System.Collections.Generic.List":                true,
	"System.Collections.Generic.HashSet":             true,
}

var dictionaries = map[string]bool{
	"System.Collections.Generic.Dictionary":          true,
	"System.Collections.Generic.IDictionary":         true,
	"System.Collections.Generic.IReadOnlyDictionary": true,
}

// TypeName translates a type reference to TypeScript. References to types
// the output does not declare become "any".
func (m *TypeMap) TypeName(ref assembly.TypeRef) string {
	switch {
	case ref.ByRef:
		return m.TypeName(*ref.Elem)
	case ref.Array:
		elem := *ref.Elem
		if !elem.Array && !elem.ByRef && len(elem.Args) == 0 {
			if name, ok := typedArrays[elem.Name]; ok {
				return name
			}
		}
		return arrayOf(m.TypeName(elem))
	}

	switch n := len(ref.Args); {
	case ref.Name == "System.Nullable" && n == 1:
		return m.TypeName(ref.Args[0]) + " | null"
	case sequences[ref.Name] && n == 1:
		return arrayOf(m.TypeName(ref.Args[0]))
	case dictionaries[ref.Name] && n == 2:
		key := m.TypeName(ref.Args[0])
		if key != "number" {
			key = "string"
		}
		return "{ [key: " + key + "]: " + m.TypeName(ref.Args[1]) + " }"
	case n > 0:
		return "any"
	}

	switch {
	case ref.Name == "System.Boolean":
		return "boolean"
	case numeric[ref.Name]:
		return "number"
	case ref.Name == "System.String", ref.Name == "System.Char":
		return "string"
	case ref.Name == "System.Void":
		return "void"
	}

	if t, ok := m.resolve(ref); ok && m.emitted(t) {
		return t.Name
	}
	return "any"
}

func arrayOf(elem string) string {
	if strings.ContainsAny(elem, " |{") {
		return "(" + elem + ")[]"
	}
	return elem + "[]"
}

// ReturnTypeName translates a method's return type; no type means void.
func (m *TypeMap) ReturnTypeName(member *assembly.Member) string {
	if member.Type.IsZero() {
		return "void"
	}
	return m.TypeName(member.Type)
}

// scriptNamespace returns the key a type's forwarders are grouped under in
// the SideCar object.
func scriptNamespace(t *assembly.Type, packageName string) string {
	ns := t.Namespace
	if ns == "" {
		ns = packageName
	}
	return strings.NewReplacer(".", "_", "+", "_").Replace(ns)
}
