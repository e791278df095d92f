package vm

import (
	"context"
	"fmt"
	"strings"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/security"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// transientPrefix keeps transient fields apart from persistent ones in the
// overlay. Field names are identifiers and can never contain it.
const transientPrefix = "\x00"

func isTransient(key string) bool {
	return strings.HasPrefix(key, transientPrefix)
}

// loadedContract is a classified contract with its loaded code.
type loadedContract struct {
	desc    *abi.Descriptor
	program api.Program
}

// invocation is the state shared by a root call and all its nested calls.
type invocation struct {
	engine  *Engine
	root    uint64
	ctx     context.Context
	monitor *security.ResourceMonitor
	header  *core.Block
	txHash  core.Hash
	held    []core.Address // locks to release when the root finishes
}

func (inv *invocation) lock(addr core.Address) error {
	if err := inv.engine.locks.acquire(inv.ctx, inv.root, addr); err != nil {
		return err
	}
	inv.held = append(inv.held, addr)
	return nil
}

func (inv *invocation) unlockAll() {
	for i := len(inv.held) - 1; i >= 0; i-- {
		inv.engine.locks.release(inv.root, inv.held[i])
	}
	inv.held = nil
}

// ExecutionContext 实现了合约执行上下文，为合约提供与区块链环境交互的接口
// 每个(嵌套)调用一个实例，能力按方法类别裁剪
type ExecutionContext struct {
	inv      *invocation
	overlay  *store.Overlay
	contract *loadedContract
	method   *abi.Method
	ictx     *core.InvocationContext

	pending []types.Transfer // transfers requested by this frame
	settled []types.Transfer // transfers applied by this frame and merged children
}

var _ core.Context = (*ExecutionContext)(nil)

func newExecutionContext(inv *invocation, overlay *store.Overlay, lc *loadedContract, m *abi.Method, ictx *core.InvocationContext) *ExecutionContext {
	return &ExecutionContext{
		inv:      inv,
		overlay:  overlay,
		contract: lc,
		method:   m,
		ictx:     ictx,
	}
}

func (ctx *ExecutionContext) address() core.Address {
	return ctx.ictx.Contract
}

func (ctx *ExecutionContext) gas(amount uint64) error {
	return ctx.inv.monitor.ConsumeGas(amount)
}

func (ctx *ExecutionContext) denied(capability string) error {
	return fmt.Errorf("%w: %s is not available to %s methods", core.ErrAccessDenied, capability, ctx.method.Class)
}

func (ctx *ExecutionContext) Class() core.Class {
	return ctx.method.Class
}

func (ctx *ExecutionContext) ContractAddress() core.Address {
	return ctx.ictx.Contract
}

// Deployer is the zero address for pure methods, which only see their own
// address.
func (ctx *ExecutionContext) Deployer() core.Address {
	if ctx.method.Class == core.ClassPure {
		return core.ZeroAddress
	}
	return ctx.ictx.Deployer
}

// Message returns a copy of the message data, nil for pure methods.
func (ctx *ExecutionContext) Message() *core.Message {
	if ctx.ictx.Message == nil {
		return nil
	}
	msg := *ctx.ictx.Message
	msg.Signers = append([]core.Address(nil), msg.Signers...)
	msg.Value = new(uint256.Int).Set(core.AmountOrZero(msg.Value))
	return &msg
}

// Block returns a copy of the block data, nil for pure methods.
func (ctx *ExecutionContext) Block() *core.Block {
	if ctx.ictx.Block == nil {
		return nil
	}
	blk := *ctx.ictx.Block
	return &blk
}

func (ctx *ExecutionContext) field(name string) (*abi.FieldDescriptor, string, error) {
	f, ok := ctx.contract.desc.Field(name)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", core.ErrUnknownField, name)
	}
	if f.Persistent {
		return f, name, nil
	}
	return f, transientPrefix + name, nil
}

func (ctx *ExecutionContext) Get(name string) (any, error) {
	if ctx.method.Class == core.ClassPure {
		return nil, ctx.denied("state")
	}
	f, key, err := ctx.field(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.gas(security.GasFieldRead); err != nil {
		return nil, err
	}
	v, ok, err := ctx.overlay.Get(ctx.address(), key)
	if err != nil {
		return nil, err
	}
	if !ok && !f.Persistent {
		v, err = core.Normalize(f.Initial)
		if err != nil {
			return nil, err
		}
	}
	if v != nil {
		data, err := core.EncodeValue(v)
		if err != nil {
			return nil, err
		}
		if err := ctx.gas(uint64(len(data)) * security.GasPerByte); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (ctx *ExecutionContext) writable(name string) (string, error) {
	if ctx.method.Class == core.ClassPure {
		return "", ctx.denied("state")
	}
	f, key, err := ctx.field(name)
	if err != nil {
		return "", err
	}
	if f.Persistent && !ctx.method.Class.Mutating() {
		return "", ctx.denied("writing persistent state")
	}
	return key, nil
}

func (ctx *ExecutionContext) Set(name string, value any) error {
	key, err := ctx.writable(name)
	if err != nil {
		return err
	}
	data, err := core.EncodeValue(value)
	if err != nil {
		return err
	}
	if err := ctx.gas(security.GasFieldWrite + uint64(len(data))*security.GasPerByte); err != nil {
		return err
	}
	return ctx.overlay.Set(ctx.address(), key, value)
}

func (ctx *ExecutionContext) Delete(name string) error {
	key, err := ctx.writable(name)
	if err != nil {
		return err
	}
	if err := ctx.gas(security.GasFieldWrite); err != nil {
		return err
	}
	ctx.overlay.Delete(ctx.address(), key)
	return nil
}

// Balance is the staged balance less transfers this frame has requested.
func (ctx *ExecutionContext) Balance() (*uint256.Int, error) {
	if ctx.method.Class == core.ClassPure {
		return nil, ctx.denied("balance")
	}
	if err := ctx.gas(security.GasBalance); err != nil {
		return nil, err
	}
	b, err := ctx.overlay.Balance(ctx.address())
	if err != nil {
		return nil, err
	}
	for _, t := range ctx.pending {
		if b.Lt(t.Amount) {
			return new(uint256.Int), nil
		}
		b.Sub(b, t.Amount)
	}
	return b, nil
}

// Transfer queues a transfer; it is checked against the balance when the
// method returns.
func (ctx *ExecutionContext) Transfer(to core.Address, amount *uint256.Int) error {
	if !ctx.method.Class.Mutating() {
		return ctx.denied("transfer")
	}
	if amount == nil {
		return fmt.Errorf("%w: nil amount", core.ErrInvalidArgument)
	}
	if err := ctx.gas(security.GasTransfer); err != nil {
		return err
	}
	ctx.pending = append(ctx.pending, types.Transfer{
		From:   ctx.address(),
		To:     to,
		Amount: new(uint256.Int).Set(amount),
	})
	return nil
}

func (ctx *ExecutionContext) Emit(name string, payload map[string]any) error {
	if !ctx.method.Class.Mutating() {
		return ctx.denied("emit")
	}
	if !ctx.contract.desc.AllowsEvent(name) {
		return fmt.Errorf("%w: undeclared event %s", core.ErrInvalidArgument, name)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	norm, err := core.Normalize(payload)
	if err != nil {
		return err
	}
	data, err := core.EncodeValue(norm)
	if err != nil {
		return err
	}
	if err := ctx.gas(security.GasEmit + uint64(len(data))*security.GasPerByte); err != nil {
		return err
	}
	var height uint64
	if ctx.ictx.Block != nil {
		height = ctx.ictx.Block.Height
	}
	ctx.overlay.AddEvent(types.Event{
		Contract: ctx.address(),
		Name:     name,
		Payload:  norm.(map[string]any),
		Height:   height,
		TxHash:   ctx.inv.txHash,
	})
	return nil
}

// Call runs a method of another contract synchronously. The callee works
// on a child overlay that is merged only if it succeeds. Its message
// sender is this contract, trusted, with no value attached.
func (ctx *ExecutionContext) Call(contract core.Address, method string, args ...any) (any, error) {
	if ctx.method.Class == core.ClassPure {
		return nil, ctx.denied("call")
	}
	if err := ctx.gas(security.GasCall); err != nil {
		return nil, err
	}

	e := ctx.inv.engine
	lc, err := e.resolve(contract)
	if err != nil {
		return nil, err
	}
	m, ok := lc.desc.Method(method)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", core.ErrMethodNotFound, contract, method)
	}
	if !m.Class.External() {
		return nil, fmt.Errorf("%w: %s.%s", core.ErrNotExternallyCallable, contract, method)
	}
	if ctx.method.Class == core.ClassView && !m.Class.ReadOnly() {
		return nil, fmt.Errorf("%w: view method cannot call %s method %s", core.ErrAccessDenied, m.Class, method)
	}
	norm, err := m.CheckArgs(args)
	if err != nil {
		return nil, err
	}
	ictx, err := BuildContext(ContextParams{
		Header:   ctx.inv.header,
		Caller:   ctx.address(),
		Contract: lc.desc,
		Method:   m,
		Nested:   true,
	})
	if err != nil {
		return nil, err
	}

	tracer := ctx.inv.monitor.Tracer()
	if err := tracer.BeginCall(security.CallFrame{
		Caller:   ctx.address(),
		Contract: contract,
		Method:   method,
		Class:    m.Class,
	}); err != nil {
		return nil, err
	}
	defer tracer.EndCall()

	if err := ctx.inv.lock(contract); err != nil {
		return nil, err
	}

	child := newExecutionContext(ctx.inv, ctx.overlay.Child(), lc, m, ictx)
	ret, err := e.execute(child, norm)
	if err != nil {
		return nil, err
	}
	child.overlay.Merge()
	ctx.settled = append(ctx.settled, child.settled...)
	return ret, nil
}

// settle applies the queued transfers to the overlay in order. The
// recipient is locked for the rest of the root invocation so its balance
// is read and committed without another root crediting it in between.
func (ctx *ExecutionContext) settle() error {
	for _, t := range ctx.pending {
		if err := ctx.inv.lock(t.To); err != nil {
			return err
		}
		if err := ctx.overlay.Debit(t.From, t.Amount); err != nil {
			return fmt.Errorf("transfer of %s to %s: %w", t.Amount.Dec(), t.To, err)
		}
		if err := ctx.overlay.Credit(t.To, t.Amount); err != nil {
			return fmt.Errorf("%w: credit %s: %w", core.ErrExecutionFault, t.To, err)
		}
		ctx.settled = append(ctx.settled, t)
	}
	ctx.pending = nil
	return nil
}
