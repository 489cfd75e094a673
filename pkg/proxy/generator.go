// Package proxy generates TypeScript and JavaScript interop code for the
// exported types of a package assembly.
package proxy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
)

// Language selects the generated proxy flavor.
type Language int

const (
	TypeScript Language = iota
	JavaScript
)

// ParseLanguage accepts "ts", "typescript", "js" and "javascript".
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(s) {
	case "ts", "typescript":
		return TypeScript, nil
	case "js", "javascript":
		return JavaScript, nil
	}
	return 0, fmt.Errorf("unknown proxy language %q", s)
}

// ContentType returns the media type a proxy is served with.
func (l Language) ContentType() string {
	switch l {
	case TypeScript:
		return "application/typescript"
	case JavaScript:
		return "application/javascript"
	}
	panic(fmt.Sprintf("proxy: unknown language %d", int(l)))
}

// Extension returns the file extension of a proxy.
func (l Language) Extension() string {
	switch l {
	case TypeScript:
		return ".ts"
	case JavaScript:
		return ".js"
	}
	panic(fmt.Sprintf("proxy: unknown language %d", int(l)))
}

func (l Language) String() string {
	switch l {
	case TypeScript:
		return "typescript"
	case JavaScript:
		return "javascript"
	}
	return fmt.Sprintf("Language(%d)", int(l))
}

// Assemblies finds package assemblies and the types they reference.
type Assemblies interface {
	FindByName(name string) (*assembly.Assembly, error)
	LookupType(from *assembly.Assembly, fullName string) (*assembly.Type, bool)
}

// Generator renders proxies for registered assemblies.
type Generator struct {
	assemblies Assemblies
	logger     *zap.Logger
}

// NewGenerator creates a generator backed by assemblies.
func NewGenerator(assemblies Assemblies, logger *zap.Logger) *Generator {
	return &Generator{
		assemblies: assemblies,
		logger:     logger.With(zap.String("component", "proxy-generator")),
	}
}

// Generate renders the proxy of the assembly registered as packageName.
// The output depends only on the assembly's metadata.
func (g *Generator) Generate(ctx context.Context, packageName string, lang Language) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	asm, err := g.assemblies.FindByName(packageName)
	if err != nil {
		return "", err
	}

	m := BuildTypeMap(asm, func(fullName string) (*assembly.Type, bool) {
		return g.assemblies.LookupType(asm, fullName)
	})

	var out string
	switch lang {
	case TypeScript:
		out = RenderTypeScript(asm.Name, m)
	case JavaScript:
		out = RenderJavaScript(asm.Name, m)
	default:
		panic(fmt.Sprintf("proxy: unknown language %d", int(lang)))
	}

	g.logger.Debug("Generated proxy",
		zap.String("package", asm.Name),
		zap.Stringer("language", lang),
		zap.Int("types", len(m.Exported())),
		zap.Int("bytes", len(out)),
	)
	return out, nil
}
