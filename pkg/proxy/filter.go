package proxy

import (
	"github.com/3FT-io/sidecar/pkg/assembly"
)

// Types without a script counterpart.
var unmapped = map[string]bool{
	"System.Object":         true,
	"System.Void":           true,
	"System.String":         true,
	"System.Char":           true,
	"System.Decimal":        true,
	"System.DateTime":       true,
	"System.DateTimeOffset": true,
	"System.TimeSpan":       true,
	"System.Guid":           true,
	"System.Type":           true,
}

// Filtered reports whether the type walk stops at t: primitives, types
// without a script counterpart, abstract non-static classes and types
// marked non-serialized.
func Filtered(t *assembly.Type) bool {
	switch {
	case t.Kind == assembly.KindPrimitive:
		return true
	case unmapped[t.FullName()]:
		return true
	case t.Abstract && !t.Static && t.Kind != assembly.KindInterface:
		return true
	case t.NonSerialized:
		return true
	}
	return false
}

// Exportable reports whether t may be declared in generated output. Enums
// always are.
func Exportable(t *assembly.Type) bool {
	if t.Kind == assembly.KindEnum {
		return true
	}
	switch {
	case t.Generic, t.NestedPrivate, t.CompilerGenerated:
		return false
	case t.Kind == assembly.KindDelegate, t.Kind == assembly.KindPrimitive:
		return false
	case assembly.SystemOrigins[t.Origin]:
		return false
	}
	return true
}
