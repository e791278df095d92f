// Package jsvm hosts JavaScript contracts on goja. Every invocation gets a
// fresh runtime with clocks and randomness removed; compiled programs are
// shared across invocations.
package jsvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled programs kept.
const DefaultCacheSize = 256

// Runtime compiles and runs JavaScript contracts.
type Runtime struct {
	programs *lru.Cache[core.Hash, *goja.Program]
}

var _ api.Runtime = (*Runtime)(nil)

// NewRuntime creates a runtime caching up to cacheSize compiled programs.
func NewRuntime(cacheSize int) (*Runtime, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[core.Hash, *goja.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{programs: cache}, nil
}

func (r *Runtime) Kind() string {
	return api.RuntimeJS
}

// Load parses the source, checks that every declared method is a top-level
// function declaration and compiles it.
func (r *Runtime) Load(desc *abi.Descriptor, code []byte) (api.Program, error) {
	hash := core.CodeHash(code)
	if prog, ok := r.programs.Get(hash); ok {
		if err := checkDeclared(desc, code); err != nil {
			return nil, err
		}
		return &program{prog: prog}, nil
	}

	if err := checkDeclared(desc, code); err != nil {
		return nil, err
	}
	prog, err := goja.Compile(desc.Name, string(code), false)
	if err != nil {
		return nil, core.NewDeploymentError(desc.Name, "compile: %v", err)
	}
	r.programs.Add(hash, prog)
	return &program{prog: prog}, nil
}

func checkDeclared(desc *abi.Descriptor, code []byte) error {
	parsed, err := parser.ParseFile(new(file.FileSet), desc.Name, string(code), 0)
	if err != nil {
		return core.NewDeploymentError(desc.Name, "syntax: %v", err)
	}
	declared := make(map[string]bool)
	for _, stmt := range parsed.Body {
		if fn, ok := stmt.(*ast.FunctionDeclaration); ok && fn.Function.Name != nil {
			declared[string(fn.Function.Name.Name)] = true
		}
	}
	for name := range desc.Methods {
		if !declared[name] {
			return core.NewDeploymentError(name, "declared method is not a top-level function")
		}
	}
	return nil
}

type program struct {
	prog *goja.Program
}

func (p *program) Run(ctx context.Context, env core.Context, method string, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rt := goja.New()
	sandbox(rt)
	inv := &invocation{rt: rt, env: env}
	if err := inv.install(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrExecutionFault, err)
	}

	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt(ctx.Err())
	})
	defer stop()

	if _, err := rt.RunProgram(prelude); err != nil {
		return nil, inv.translate(err)
	}

	info, err := core.EncodeValue(contextInfo(env))
	if err != nil {
		return nil, err
	}
	bind, _ := goja.AssertFunction(rt.Get("__bind"))
	pure := env.Class() == core.ClassPure
	if _, err := bind(goja.Undefined(), rt.ToValue(string(info)), rt.ToValue(pure)); err != nil {
		return nil, inv.translate(err)
	}

	if _, err := rt.RunProgram(p.prog); err != nil {
		return nil, inv.translate(err)
	}

	fn := rt.Get(method)
	if _, ok := goja.AssertFunction(fn); !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMethodNotFound, method)
	}
	if args == nil {
		args = []any{}
	}
	argsJSON, err := core.EncodeValue(args)
	if err != nil {
		return nil, err
	}

	invoke, _ := goja.AssertFunction(rt.Get("__invoke"))
	out, err := invoke(goja.Undefined(), fn, rt.ToValue(string(argsJSON)))
	if err != nil {
		return nil, inv.translate(err)
	}
	return core.DecodeValue([]byte(out.String()))
}

// sandbox removes sources of non-determinism.
func sandbox(rt *goja.Runtime) {
	global := rt.GlobalObject()
	_ = global.Delete("Date")
	if math, ok := global.Get("Math").(*goja.Object); ok {
		_ = math.Delete("random")
	}
}

// translate maps a goja error to a revert, a host error or a fault.
func (inv *invocation) translate(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return fmt.Errorf("%w: interrupted", core.ErrExecutionFault)
	}

	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return fmt.Errorf("%w: %v", core.ErrExecutionFault, err)
	}
	obj, ok := exc.Value().(*goja.Object)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrExecutionFault, exc.Error())
	}
	switch property(obj, "name") {
	case "Revert":
		return core.Revert(property(obj, "message"))
	case "GoError":
		if inv.hostErr != nil {
			return inv.hostErr
		}
	}
	return fmt.Errorf("%w: %s", core.ErrExecutionFault, exc.Error())
}

func property(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return ""
	}
	return v.String()
}
