package wasi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/govm-net/cvm/types"
	"github.com/tetratelabs/wazero/api"
)

// ExportInfo describes one exported function.
type ExportInfo struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
	// Callable reports whether the signature fits the i64-only call ABI.
	Callable bool `json:"callable"`
}

// ImportInfo describes one imported function.
type ImportInfo struct {
	Module  string `json:"module"`
	Name    string `json:"name"`
	Allowed bool   `json:"allowed"`
}

// ModuleInfo summarizes a wasm module as the runtime sees it.
type ModuleInfo struct {
	Exports  []ExportInfo `json:"exports"`
	Imports  []ImportInfo `json:"imports"`
	Memories []string     `json:"memories,omitempty"`
}

// Deployable reports whether every import is served by the host module.
func (m *ModuleInfo) Deployable() bool {
	for _, imp := range m.Imports {
		if !imp.Allowed {
			return false
		}
	}
	return true
}

// Inspect compiles code without instantiating it and lists its exports
// and imports.
func (vm *WazeroVM) Inspect(ctx context.Context, code []byte) (*ModuleInfo, error) {
	r := vm.newRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WebAssembly module: %w", err)
	}

	info := &ModuleInfo{}
	for name, def := range compiled.ExportedFunctions() {
		info.Exports = append(info.Exports, ExportInfo{
			Name:     name,
			Params:   typeNames(def.ParamTypes()),
			Results:  typeNames(def.ResultTypes()),
			Callable: i64Only(def),
		})
	}
	sort.Slice(info.Exports, func(i, j int) bool { return info.Exports[i].Name < info.Exports[j].Name })

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		info.Imports = append(info.Imports, ImportInfo{
			Module:  module,
			Name:    name,
			Allowed: module == types.HostModule && hostFunctions[name],
		})
	}

	for name, mem := range compiled.ExportedMemories() {
		limit := "unbounded"
		if max, ok := mem.Max(); ok {
			limit = fmt.Sprintf("%d", max)
		}
		info.Memories = append(info.Memories, fmt.Sprintf("%s: min %d pages, max %s", name, mem.Min(), limit))
	}
	sort.Strings(info.Memories)
	return info, nil
}

func typeNames(ts []api.ValueType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = strings.ToLower(api.ValueTypeName(t))
	}
	return out
}

func i64Only(def api.FunctionDefinition) bool {
	for _, list := range [][]api.ValueType{def.ParamTypes(), def.ResultTypes()} {
		for _, t := range list {
			if t != api.ValueTypeI64 {
				return false
			}
		}
	}
	return len(def.ResultTypes()) <= 1
}
