package proxy

import (
	"strings"

	"github.com/3FT-io/sidecar/pkg/assembly"
)

// RenderTypeScript renders declarations for every exported type of m followed by
// classes whose static methods forward to the bound runtime methods.
func RenderTypeScript(packageName string, m *TypeMap) string {
	exported := m.Exported()
	w := &writer{}

	w.line("declare const SideCar: any;")

	// Pass A: shapes.
	for _, e := range exported {
		switch {
		case e.Type.Kind == assembly.KindEnum:
			w.line("")
			writeEnum(w, e.Type)
		case e.Type.IsClassLike():
			w.line("")
			w.line("export interface %s {", e.Type.Name)
			w.in()
			writeFields(w, m, e)
			w.out()
			w.line("}")
		}
	}

	// Pass B: forwarders.
	for _, e := range exported {
		if !e.Type.IsClassLike() {
			continue
		}
		w.line("")
		w.line("export class %s {", e.Type.Name)
		w.in()
		writeFields(w, m, e)
		for _, member := range forwardedMethods(e) {
			writeForwarder(w, m, packageName, e.Type, member)
		}
		w.out()
		w.line("}")
	}

	return w.String()
}

func writeEnum(w *writer, t *assembly.Type) {
	w.line("export enum %s {", t.Name)
	w.in()
	values := t.EnumConstants()
	for i, v := range t.Values {
		sep := ","
		if i == len(t.Values)-1 {
			sep = ""
		}
		w.line("%s = %d%s", v.Name, values[i], sep)
	}
	w.out()
	w.line("}")
}

func writeFields(w *writer, m *TypeMap, e *Entry) {
	for _, member := range e.Members {
		if member.Kind == assembly.MemberMethod || !member.CanRead() {
			continue
		}
		prefix := ""
		if !member.CanWrite() {
			prefix = "readonly "
		}
		w.line("%s%s: %s;", prefix, ToCamelCase(member.Name), m.TypeName(member.Type))
	}
}

func writeForwarder(w *writer, m *TypeMap, packageName string, t *assembly.Type, member *assembly.Member) {
	methodName := ToCamelCase(member.Name)

	params := make([]string, len(member.Parameters))
	names := make([]string, len(member.Parameters))
	for i, p := range member.Parameters {
		names[i] = ToCamelCase(p.Name)
		params[i] = names[i] + ": " + m.TypeName(p.Type)
	}

	w.line("static %s(%s): %s {", methodName, strings.Join(params, ", "), m.ReturnTypeName(member))
	w.in()
	ret := ""
	if member.Returns() {
		ret = "return "
	}
	w.line("%sSideCar.%s.%s.%s(%s);", ret, scriptNamespace(t, packageName), t.Name, methodName, strings.Join(names, ", "))
	w.out()
	w.line("}")
}

// forwardedMethods returns the methods that get a forwarder: everything
// but property accessors, generic methods and members inherited from
// System.Object.
func forwardedMethods(e *Entry) []*assembly.Member {
	var out []*assembly.Member
	for _, member := range e.Members {
		if member.Kind != assembly.MemberMethod || member.IsAccessor() || member.Generic {
			continue
		}
		if member.DeclaringType == "System.Object" {
			continue
		}
		out = append(out, member)
	}
	return out
}
