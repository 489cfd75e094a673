package assembly

// CoreLibrary is the origin of the built-in system types.
const CoreLibrary = "System.Private.CoreLib"

// SystemOrigins are the origins of standard library types.
var SystemOrigins = map[string]bool{
	CoreLibrary:          true,
	"mscorlib":           true,
	"netstandard":        true,
	"System":             true,
	"System.Runtime":     true,
	"System.Core":        true,
	"System.Private.Uri": true,
	"System.Collections": true,
}

var builtins = map[string]*Type{}

func init() {
	for _, name := range []string{
		"Boolean", "Byte", "SByte", "Int16", "UInt16", "Int32", "UInt32",
		"Int64", "UInt64", "Single", "Double", "Char", "IntPtr", "UIntPtr",
	} {
		addBuiltin("System", name, KindPrimitive, false)
	}

	for _, name := range []string{"Object", "String"} {
		addBuiltin("System", name, KindClass, false)
	}
	addBuiltin("System", "Type", KindClass, false).Abstract = true
	addBuiltin("System", "Void", KindStruct, false)
	for _, name := range []string{"Decimal", "DateTime", "DateTimeOffset", "TimeSpan", "Guid"} {
		addBuiltin("System", name, KindStruct, false)
	}

	addBuiltin("System", "Nullable", KindStruct, true)
	for _, name := range []string{"IEnumerable", "ICollection", "IList", "IReadOnlyCollection", "IReadOnlyList", "IDictionary", "IReadOnlyDictionary"} {
		addBuiltin("System.Collections.Generic", name, KindInterface, true)
	}
	for _, name := range []string{"List", "HashSet", "Dictionary"} {
		addBuiltin("System.Collections.Generic", name, KindClass, true)
	}
}

func addBuiltin(namespace, name string, kind TypeKind, generic bool) *Type {
	t := &Type{
		Namespace: namespace,
		Name:      name,
		Kind:      kind,
		Origin:    CoreLibrary,
		Generic:   generic,
	}
	builtins[t.FullName()] = t
	return t
}

// Builtin looks up a standard library type by full name.
func Builtin(fullName string) (*Type, bool) {
	t, ok := builtins[fullName]
	return t, ok
}
