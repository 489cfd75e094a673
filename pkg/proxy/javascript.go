package proxy

import (
	"fmt"
	"strings"

	"github.com/3FT-io/sidecar/pkg/assembly"
)

type binding struct {
	t       *assembly.Type
	methods []*assembly.Member
}

type namespaceGroup struct {
	name     string
	bindings []binding
}

// RenderJavaScript renders the SideCar object: one stub per bindable static
// method, grouped by namespace and class, and an init function that binds
// each stub to the compiled runtime once it has loaded.
func RenderJavaScript(packageName string, m *TypeMap) string {
	groups := bindableGroups(packageName, m)
	w := &writer{}

	w.line("var SideCar = {")
	w.in()
	for _, g := range groups {
		w.line("%s: {", g.name)
		w.in()
		for bi, b := range g.bindings {
			w.line("%s: {", b.t.Name)
			w.in()
			for mi, member := range b.methods {
				params := make([]string, len(member.Parameters))
				for i, p := range member.Parameters {
					params[i] = ToCamelCase(p.Name)
				}
				w.line("%s: function (%s) {", ToCamelCase(member.Name), strings.Join(params, ", "))
				w.in()
				w.line("throw new Error(%q);", "SideCar.init() must be called before "+b.t.FullName()+"."+member.Name)
				w.out()
				w.line("}%s", comma(mi, len(b.methods)))
			}
			w.out()
			w.line("}%s", comma(bi, len(g.bindings)))
		}
		w.out()
		w.line("},")
	}

	w.line("init: function () {")
	w.in()
	for _, g := range groups {
		for _, b := range g.bindings {
			for _, member := range b.methods {
				w.line("this.%s.%s.%s = Module.mono_bind_static_method(%s);",
					g.name, b.t.Name, ToCamelCase(member.Name), bindingSignature(packageName, b.t, member))
			}
		}
	}
	w.out()
	w.line("}")
	w.out()
	w.line("};")

	return w.String()
}

// bindingSignature is the method address understood by
// Module.mono_bind_static_method.
func bindingSignature(packageName string, t *assembly.Type, member *assembly.Member) string {
	return fmt.Sprintf("%q", fmt.Sprintf("[%s] %s:%s", packageName, t.FullName(), member.Name))
}

func bindableGroups(packageName string, m *TypeMap) []namespaceGroup {
	var groups []namespaceGroup
	index := make(map[string]int)

	for _, e := range m.Exported() {
		if e.Type.Kind != assembly.KindClass && e.Type.Kind != assembly.KindStruct {
			continue
		}
		var methods []*assembly.Member
		for _, member := range forwardedMethods(e) {
			if member.Static && !member.Type.Unwrap().Generic() {
				methods = append(methods, member)
			}
		}
		if len(methods) == 0 {
			continue
		}

		ns := scriptNamespace(e.Type, packageName)
		i, ok := index[ns]
		if !ok {
			i = len(groups)
			index[ns] = i
			groups = append(groups, namespaceGroup{name: ns})
		}
		groups[i].bindings = append(groups[i].bindings, binding{t: e.Type, methods: methods})
	}
	return groups
}

func comma(i, n int) string {
	if i < n-1 {
		return ","
	}
	return ""
}
