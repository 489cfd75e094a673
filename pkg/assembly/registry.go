package assembly

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry maps package names to assemblies. Names match case-insensitively.
type Registry struct {
	mu         sync.RWMutex
	assemblies map[string]*Assembly
	logger     *zap.Logger
}

// NewRegistry creates a registry holding seed, typically the assemblies of
// the startup manifest.
func NewRegistry(logger *zap.Logger, seed ...*Assembly) (*Registry, error) {
	r := &Registry{
		assemblies: make(map[string]*Assembly, len(seed)),
		logger:     logger.With(zap.String("component", "assembly-registry")),
	}
	for _, a := range seed {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a, replacing any assembly registered under the same name.
func (r *Registry) Register(a *Assembly) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.prepare()

	key := strings.ToLower(a.Name)

	r.mu.Lock()
	_, replaced := r.assemblies[key]
	r.assemblies[key] = a
	r.mu.Unlock()

	r.logger.Info("Registered assembly",
		zap.String("name", a.Name),
		zap.String("module_id", a.ModuleID),
		zap.Int("types", len(a.Types)),
		zap.Bool("replaced", replaced),
	)
	return nil
}

// List returns every registered assembly ordered by name.
func (r *Registry) List() []*Assembly {
	r.mu.RLock()
	out := make([]*Assembly, 0, len(r.assemblies))
	for _, a := range r.assemblies {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// FindByName returns the assembly registered under name.
func (r *Registry) FindByName(name string) (*Assembly, error) {
	r.mu.RLock()
	a, ok := r.assemblies[strings.ToLower(name)]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrAssemblyNotFound
	}
	return a, nil
}

// LookupType resolves a full type name against the built-in types, then
// from, then every other registered assembly in name order.
func (r *Registry) LookupType(from *Assembly, fullName string) (*Type, bool) {
	if t, ok := Builtin(fullName); ok {
		return t, true
	}
	if from != nil {
		if t, ok := from.Lookup(fullName); ok {
			return t, true
		}
	}
	for _, a := range r.List() {
		if a == from {
			continue
		}
		if t, ok := a.Lookup(fullName); ok {
			return t, true
		}
	}
	return nil, false
}
