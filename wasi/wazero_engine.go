// Package wasi hosts WebAssembly contracts on wazero. Contracts see a single
// host module, env, with an i64-only ABI; fields are addressed by their
// index in the sorted list of persistent fields.
package wasi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/govm-net/cvm/abi"
	cvmapi "github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var hostFunctions = map[string]bool{
	types.HostFieldGet:    true,
	types.HostFieldSet:    true,
	types.HostRevert:      true,
	types.HostBlockHeight: true,
}

// WazeroVM compiles and runs wasm contracts. Compiled code is shared
// through a compilation cache; every call gets its own runtime.
type WazeroVM struct {
	cache wazero.CompilationCache
}

var _ cvmapi.Runtime = (*WazeroVM)(nil)

// NewWazeroVM creates a wasm runtime with an in-memory compilation cache.
func NewWazeroVM() *WazeroVM {
	return &WazeroVM{cache: wazero.NewCompilationCache()}
}

// Close releases compiled code.
func (vm *WazeroVM) Close(ctx context.Context) error {
	return vm.cache.Close(ctx)
}

func (vm *WazeroVM) Kind() string {
	return cvmapi.RuntimeWasm
}

func (vm *WazeroVM) newRuntime(ctx context.Context) wazero.Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(vm.cache).
		WithCloseOnContextDone(true)
	return wazero.NewRuntimeWithConfig(ctx, cfg)
}

// Load compiles the module and checks its imports and the signatures of
// declared methods.
func (vm *WazeroVM) Load(desc *abi.Descriptor, code []byte) (cvmapi.Program, error) {
	if len(code) == 0 {
		return nil, core.NewDeploymentError(desc.Name, "contract code cannot be empty")
	}
	ctx := context.Background()
	r := vm.newRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		return nil, core.NewDeploymentError(desc.Name, "failed to compile WebAssembly module: %v", err)
	}

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != types.HostModule || !hostFunctions[name] {
			return nil, core.NewDeploymentError(desc.Name, "import %s.%s is not allowed", module, name)
		}
	}

	exports := compiled.ExportedFunctions()
	methods := make([]string, 0, len(desc.Methods))
	for name := range desc.Methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	for _, name := range methods {
		def, ok := exports[name]
		if !ok {
			return nil, core.NewDeploymentError(name, "declared method is not exported")
		}
		if err := checkSignature(def, desc.Methods[name]); err != nil {
			return nil, core.NewDeploymentError(name, "%v", err)
		}
	}

	return &program{vm: vm, code: code, fields: desc.PersistentFields()}, nil
}

func checkSignature(def api.FunctionDefinition, m *abi.Method) error {
	for _, list := range [][]api.ValueType{def.ParamTypes(), def.ResultTypes()} {
		for _, t := range list {
			if t != api.ValueTypeI64 {
				return fmt.Errorf("only i64 parameters and results are supported, got %s", api.ValueTypeName(t))
			}
		}
	}
	if len(def.ResultTypes()) > 1 {
		return errors.New("at most one result is supported")
	}
	if len(def.ParamTypes()) != len(m.Inputs) {
		return fmt.Errorf("exports %d parameters, declared %d", len(def.ParamTypes()), len(m.Inputs))
	}
	return nil
}

type program struct {
	vm     *WazeroVM
	code   []byte
	fields []string
}

func (p *program) Run(ctx context.Context, env core.Context, method string, args []any) (any, error) {
	params := make([]uint64, len(args))
	for i, arg := range args {
		n, ok := arg.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: argument %d must be an integer", core.ErrInvalidArgumentType, i)
		}
		params[i] = uint64(n)
	}

	r := p.vm.newRuntime(ctx)
	defer r.Close(context.Background())

	inv := &invocation{env: env, fields: p.fields}
	if _, err := inv.hostModule(r).Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("%w: instantiate host module: %v", core.ErrExecutionFault, err)
	}

	compiled, err := r.CompileModule(ctx, p.code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrExecutionFault, err)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("contract"))
	if err != nil {
		return nil, inv.translate(ctx, err)
	}

	fn := mod.ExportedFunction(method)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrMethodNotFound, method)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, inv.translate(ctx, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return int64(results[0]), nil
}

// invocation carries the host state of one call.
type invocation struct {
	env     core.Context
	fields  []string
	hostErr error
}

// fail aborts the wasm call from inside a host function.
func (inv *invocation) fail(err error) {
	inv.hostErr = err
	panic(err)
}

func (inv *invocation) field(idx int64) string {
	if idx < 0 || idx >= int64(len(inv.fields)) {
		inv.fail(fmt.Errorf("%w: field index %d", core.ErrUnknownField, idx))
	}
	return inv.fields[idx]
}

func (inv *invocation) hostModule(r wazero.Runtime) wazero.HostModuleBuilder {
	b := r.NewHostModuleBuilder(types.HostModule)

	b.NewFunctionBuilder().
		WithParameterNames("field").
		WithResultNames("value").
		WithFunc(func(_ context.Context, idx int64) int64 {
			v, err := inv.env.Get(inv.field(idx))
			if err != nil {
				inv.fail(err)
			}
			switch n := v.(type) {
			case nil:
				return 0
			case int64:
				return n
			default:
				inv.fail(fmt.Errorf("%w: field holds %s, want integer", core.ErrUnsupportedValue, core.KindOf(v)))
			}
			return 0
		}).
		Export(types.HostFieldGet)

	b.NewFunctionBuilder().
		WithParameterNames("field", "value").
		WithFunc(func(_ context.Context, idx, value int64) {
			if err := inv.env.Set(inv.field(idx), value); err != nil {
				inv.fail(err)
			}
		}).
		Export(types.HostFieldSet)

	b.NewFunctionBuilder().
		WithParameterNames("code").
		WithFunc(func(_ context.Context, code int64) {
			inv.fail(core.Revert(fmt.Sprintf("revert code %d", code)))
		}).
		Export(types.HostRevert)

	b.NewFunctionBuilder().
		WithResultNames("height").
		WithFunc(func(_ context.Context) int64 {
			blk := inv.env.Block()
			if blk == nil {
				inv.fail(fmt.Errorf("%w: block data", core.ErrAccessDenied))
			}
			return int64(blk.Height)
		}).
		Export(types.HostBlockHeight)

	return b
}

// translate prefers the host error that aborted the call, then the
// context error, and reports anything else as a fault.
func (inv *invocation) translate(ctx context.Context, err error) error {
	if inv.hostErr != nil {
		return inv.hostErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", core.ErrExecutionFault, err)
}
