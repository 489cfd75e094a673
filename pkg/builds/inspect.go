package builds

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
)

// ModuleInfo summarizes the runtime binary of a build.
type ModuleInfo struct {
	BuildHash string   `json:"build_hash"`
	Size      int      `json:"size"`
	Imports   []string `json:"imports"`
	Exports   []string `json:"exports"`
	Memories  []string `json:"memories"`
}

// Inspect validates the mono.wasm binary of a build and lists its
// function imports and exports.
func (s *Store) Inspect(ctx context.Context, hash string) (*ModuleInfo, error) {
	data, err := s.LoadBuildFile(ctx, hash, MonoWasm)
	if err != nil {
		return nil, err
	}

	info, err := InspectModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", hash, err)
	}
	info.BuildHash = hash
	return info, nil
}

// InspectModule compiles a WebAssembly binary without instantiating it.
func InspectModule(ctx context.Context, data []byte) (*ModuleInfo, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("invalid wasm module: %w", err)
	}
	defer compiled.Close(ctx)

	info := &ModuleInfo{
		Size:     len(data),
		Imports:  []string{},
		Exports:  []string{},
		Memories: []string{},
	}

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		info.Imports = append(info.Imports, module+"."+name)
	}
	for name := range compiled.ExportedFunctions() {
		info.Exports = append(info.Exports, name)
	}
	for name := range compiled.ExportedMemories() {
		info.Memories = append(info.Memories, name)
	}

	sort.Strings(info.Imports)
	sort.Strings(info.Exports)
	sort.Strings(info.Memories)

	return info, nil
}
