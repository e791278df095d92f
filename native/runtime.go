// Package native hosts contracts written as Go handlers compiled into the
// node. The deployed code is the name the contract was registered under.
package native

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
)

// Handler implements one contract method.
type Handler func(ctx core.Context, args []any) (any, error)

// Contract maps method names to handlers.
type Contract map[string]Handler

// Runtime is the registry of native contracts.
type Runtime struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

var _ api.Runtime = (*Runtime)(nil)

// NewRuntime creates an empty registry.
func NewRuntime() *Runtime {
	return &Runtime{contracts: make(map[string]Contract)}
}

// Register adds a contract under name.
func (r *Runtime) Register(name string, c Contract) error {
	if name == "" {
		return fmt.Errorf("%w: empty contract name", core.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[name]; exists {
		return fmt.Errorf("native contract %s already registered", name)
	}
	r.contracts[name] = c
	return nil
}

// MustRegister is Register that panics, for package init.
func (r *Runtime) MustRegister(name string, c Contract) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Names lists registered contracts.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) Kind() string {
	return api.RuntimeNative
}

// Load resolves the registered contract and checks that every declared
// method has a handler.
func (r *Runtime) Load(desc *abi.Descriptor, code []byte) (api.Program, error) {
	name := strings.TrimSpace(string(code))
	r.mu.RLock()
	c, ok := r.contracts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewDeploymentError(name, "native contract is not registered")
	}
	for method := range desc.Methods {
		if _, ok := c[method]; !ok {
			return nil, core.NewDeploymentError(method, "declared method has no handler")
		}
	}
	return program(c), nil
}

type program Contract

func (p program) Run(ctx context.Context, env core.Context, method string, args []any) (any, error) {
	h, ok := p[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMethodNotFound, method)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h(env, args)
}
