package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/event"
	"github.com/govm-net/cvm/jsvm"
	"github.com/govm-net/cvm/monitor"
	"github.com/govm-net/cvm/native"
	"github.com/govm-net/cvm/repository"
	"github.com/govm-net/cvm/security"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/govm-net/cvm/wasi"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	// state backends register themselves with the store registry
	_ "github.com/govm-net/cvm/store/db"
	_ "github.com/govm-net/cvm/store/leveldb"
	_ "github.com/govm-net/cvm/store/memory"
)

// Engine implements the VM interface. It owns the contract registry, the
// state adapter, the runtimes and the event emitter.
type Engine struct {
	config      *Config
	logger      *slog.Logger
	state       *store.Adapter
	codeManager *repository.Manager
	native      *native.Runtime
	wasm        *wasi.WazeroVM
	runtimes    map[string]api.Runtime
	limiter     *security.ResourceLimiter
	emitter     *event.Emitter
	metrics     *monitor.EngineMetrics
	contracts   *lru.Cache[core.Address, *loadedContract]
	addrGen     api.ContractAddressGenerator

	locks    *lockTable
	roots    atomic.Uint64
	commitMu sync.Mutex
	deployMu sync.Mutex
	head     atomic.Pointer[core.Block]
	closed   atomic.Bool
}

var _ api.VM = (*Engine)(nil)

// NewEngine creates a new engine
func NewEngine(config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "vm")

	backend, err := store.Open(config.StoreType, config.StoreParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}

	codeManager, err := repository.NewManager(config.CodeManagerDir)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create code manager: %w", err)
	}

	nativeRT := config.Native
	if nativeRT == nil {
		nativeRT = native.NewRuntime()
	}
	jsRT, err := jsvm.NewRuntime(config.CacheSize)
	if err != nil {
		backend.Close()
		return nil, err
	}
	wasmRT := wasi.NewWazeroVM()

	runtimes := map[string]api.Runtime{
		nativeRT.Kind(): nativeRT,
		jsRT.Kind():     jsRT,
		wasmRT.Kind():   wasmRT,
	}
	for _, rt := range config.Runtimes {
		runtimes[rt.Kind()] = rt
	}

	lastSeq, err := backend.LastSequence()
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to read event sequence: %w", err)
	}

	contracts, err := lru.New[core.Address, *loadedContract](config.CacheSize)
	if err != nil {
		backend.Close()
		return nil, err
	}

	addrGen := config.Address
	if addrGen == nil {
		addrGen = api.DefaultContractAddressGenerator
	}

	e := &Engine{
		config:      config,
		logger:      logger,
		state:       store.NewAdapter(backend),
		codeManager: codeManager,
		native:      nativeRT,
		wasm:        wasmRT,
		runtimes:    runtimes,
		limiter:     security.NewResourceLimiter(config.Contract.Quota()),
		emitter:     event.NewEmitter(lastSeq, logger),
		metrics:     monitor.NewEngineMetrics(),
		contracts:   contracts,
		addrGen:     addrGen,
		locks:       newLockTable(),
	}
	e.head.Store(&core.Block{})
	return e, nil
}

// Native returns the registry of native contract implementations.
func (e *Engine) Native() *native.Runtime {
	return e.native
}

// Store returns the state adapter.
func (e *Engine) Store() *store.Adapter {
	return e.state
}

// Emitter returns the event emitter.
func (e *Engine) Emitter() *event.Emitter {
	return e.emitter
}

// Head returns the block used when a request carries no header.
func (e *Engine) Head() *core.Block {
	b := *e.head.Load()
	return &b
}

// SetHead sets the block used when a request carries no header.
func (e *Engine) SetHead(b *core.Block) {
	if b == nil {
		return
	}
	head := *b
	e.head.Store(&head)
}

// Deploy classifies a manifest, loads its code into the selected runtime
// and registers the contract with its initial persistent state.
func (e *Engine) Deploy(ctx context.Context, req api.DeployRequest) (*abi.Descriptor, error) {
	if e.closed.Load() {
		return nil, store.ErrClosed
	}
	if req.Manifest == nil {
		return nil, core.NewDeploymentError("", "manifest is missing")
	}
	if uint64(len(req.Code)) > e.config.Contract.MaxCodeSize {
		return nil, core.NewDeploymentError("", "code size %d exceeds limit %d", len(req.Code), e.config.Contract.MaxCodeSize)
	}

	desc, err := abi.Classify(req.Manifest)
	if err != nil {
		return nil, err
	}
	rt, ok := e.runtimes[desc.Runtime]
	if !ok {
		return nil, core.NewDeploymentError("", "unknown runtime %q", desc.Runtime)
	}

	desc.CodeHash = core.CodeHash(req.Code)
	desc.Deployer = req.Deployer
	desc.Height = req.Height
	desc.Address = req.Address
	if desc.Address.IsZero() {
		desc.Address = e.addrGen(req.Deployer, desc.CodeHash, req.Nonce)
	}

	program, err := rt.Load(desc, req.Code)
	if err != nil {
		if !errors.Is(err, core.ErrDeployment) {
			err = core.NewDeploymentError("", "%v", err)
		}
		return nil, err
	}

	manifest, err := json.Marshal(req.Manifest)
	if err != nil {
		return nil, core.NewDeploymentError("", "encode manifest: %v", err)
	}

	e.deployMu.Lock()
	defer e.deployMu.Unlock()

	root := e.roots.Add(1)
	if err := e.locks.acquire(ctx, root, desc.Address); err != nil {
		return nil, err
	}
	defer e.locks.release(root, desc.Address)

	err = e.codeManager.RegisterCode(&repository.ContractCode{
		Address:  desc.Address,
		Deployer: req.Deployer,
		Manifest: manifest,
		Code:     req.Code,
		Height:   req.Height,
	})
	if errors.Is(err, repository.ErrContractExists) {
		return nil, core.NewDeploymentError("", "address %s is already in use", desc.Address)
	}
	if err != nil {
		return nil, err
	}

	if err := e.commitInitial(desc, req.Height); err != nil {
		if rmErr := e.codeManager.RemoveCode(desc.Address); rmErr != nil {
			e.logger.Error("Failed to remove contract code", "contract", desc.Address, "error", rmErr)
		}
		return nil, err
	}

	e.contracts.Add(desc.Address, &loadedContract{desc: desc, program: program})
	e.logger.Info("Contract deployed",
		"contract", desc.Address,
		"runtime", desc.Runtime,
		"deployer", req.Deployer,
		"methods", len(desc.Methods),
		"height", req.Height)
	return desc, nil
}

func (e *Engine) commitInitial(desc *abi.Descriptor, height uint64) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	for _, name := range desc.PersistentFields() {
		f := desc.Fields[name]
		if f.Initial == nil {
			continue
		}
		if err := e.state.StageWrite(desc.Address, name, f.Initial); err != nil {
			e.state.Discard(desc.Address)
			return core.NewDeploymentError(name, "initial value: %v", err)
		}
	}
	if !e.state.Staged(desc.Address) {
		return nil
	}
	if err := e.state.Commit(height, desc.Address); err != nil {
		e.state.Discard(desc.Address)
		return fmt.Errorf("commit initial state: %w", err)
	}
	return nil
}

// resolve returns the loaded contract at addr, loading it from the code
// repository on a cache miss.
func (e *Engine) resolve(addr core.Address) (*loadedContract, error) {
	if lc, ok := e.contracts.Get(addr); ok {
		return lc, nil
	}

	code, err := e.codeManager.GetCode(addr)
	if err != nil {
		return nil, err
	}
	manifest, err := abi.ParseManifest(code.Manifest)
	if err != nil {
		return nil, err
	}
	desc, err := abi.Classify(manifest)
	if err != nil {
		return nil, err
	}
	desc.Address = addr
	desc.Deployer = code.Deployer
	desc.CodeHash = code.Hash
	desc.Height = code.Height

	rt, ok := e.runtimes[desc.Runtime]
	if !ok {
		return nil, core.NewDeploymentError("", "unknown runtime %q", desc.Runtime)
	}
	program, err := rt.Load(desc, code.Code)
	if err != nil {
		return nil, err
	}

	lc := &loadedContract{desc: desc, program: program}
	e.contracts.Add(addr, lc)
	e.logger.Debug("Contract loaded", "contract", addr, "runtime", desc.Runtime)
	return lc, nil
}

// Descriptor returns the classified descriptor of a deployed contract.
func (e *Engine) Descriptor(addr core.Address) (*abi.Descriptor, error) {
	lc, err := e.resolve(addr)
	if err != nil {
		return nil, err
	}
	return lc.desc, nil
}

// Contracts lists the addresses of deployed contracts.
func (e *Engine) Contracts() ([]core.Address, error) {
	return e.codeManager.List()
}

// Invoke executes a method. Any error is also reported in the returned
// result; a nil error means the method ran, successfully or not.
func (e *Engine) Invoke(ctx context.Context, req api.Request) (*types.InvocationResult, error) {
	return e.invoke(ctx, req, false)
}

// Query executes a pure or view method. Other classes are rejected.
func (e *Engine) Query(ctx context.Context, req api.Request) (*types.InvocationResult, error) {
	return e.invoke(ctx, req, true)
}

func (e *Engine) invoke(ctx context.Context, req api.Request, readOnly bool) (*types.InvocationResult, error) {
	start := time.Now()
	res := &types.InvocationResult{
		Contract: req.Contract,
		Method:   req.Method,
	}
	reject := func(err error) (*types.InvocationResult, error) {
		res.Outcome = types.OutcomeNotExecuted
		res.Failure = types.FailureRejected
		res.Reason = err.Error()
		res.Err = err
		e.observe(res, time.Since(start))
		return res, err
	}

	if e.closed.Load() {
		return reject(store.ErrClosed)
	}
	lc, err := e.resolve(req.Contract)
	if err != nil {
		return reject(err)
	}
	m, ok := lc.desc.Method(req.Method)
	if !ok {
		return reject(fmt.Errorf("%w: %s.%s", core.ErrMethodNotFound, req.Contract, req.Method))
	}
	res.Class = m.Class
	if !m.Class.External() {
		return reject(fmt.Errorf("%w: %s.%s is %s", core.ErrNotExternallyCallable, req.Contract, req.Method, m.Class))
	}
	if readOnly && !m.Class.ReadOnly() {
		return reject(fmt.Errorf("%w: %s is %s", core.ErrNotReadOnly, req.Method, m.Class))
	}
	if m.Class.Mutating() {
		env := req.Envelope
		if env == nil || !env.Verified {
			return reject(fmt.Errorf("%w: %s requires a verified transaction", core.ErrUnauthorizedCall, req.Method))
		}
		if env.Contract != req.Contract || env.Method != req.Method {
			return reject(fmt.Errorf("%w: transaction targets %s.%s", core.ErrUnauthorizedCall, env.Contract, env.Method))
		}
	}

	args, err := m.CheckArgs(req.Args)
	if err != nil {
		return reject(err)
	}
	header := req.Header
	if header == nil {
		header = e.Head()
	}
	ictx, err := BuildContext(ContextParams{
		Envelope: req.Envelope,
		Header:   header,
		Caller:   req.Caller,
		Contract: lc.desc,
		Method:   m,
	})
	if err != nil {
		return reject(err)
	}
	var txHash core.Hash
	if req.Envelope != nil {
		if txHash, err = req.Envelope.Hash(); err != nil {
			return reject(err)
		}
	}

	mon, runCtx := e.limiter.StartMonitoring(ctx)
	defer mon.Stop()

	inv := &invocation{
		engine:  e,
		root:    e.roots.Add(1),
		ctx:     runCtx,
		monitor: mon,
		header:  header,
		txHash:  txHash,
	}
	defer inv.unlockAll()
	if err := inv.lock(req.Contract); err != nil {
		return reject(err)
	}

	ec := newExecutionContext(inv, store.NewOverlay(e.state), lc, m, ictx)
	ret, runErr := e.runRoot(ec, args)
	if runErr == nil && m.Class.Mutating() {
		res.Events, runErr = e.commit(ec, header.Height)
	}
	res.GasUsed = mon.GasUsed()

	if runErr != nil {
		e.classify(res, runErr, mon)
	} else {
		res.Outcome = types.OutcomeCommitted
		res.Success = true
		res.Return = ret
		if m.Class.Mutating() {
			e.fillWrites(res, ec)
		}
	}

	elapsed := time.Since(start)
	e.observe(res, elapsed)
	e.logger.Debug("Contract invoked",
		"contract", req.Contract,
		"method", req.Method,
		"class", m.Class,
		"outcome", res.Outcome,
		"failure", res.Failure,
		"gas", res.GasUsed,
		"elapsed", elapsed)
	return res, nil
}

func (e *Engine) runRoot(ec *ExecutionContext, args []any) (any, error) {
	mon := ec.inv.monitor
	if err := mon.ConsumeGas(security.GasInvocation); err != nil {
		return nil, err
	}
	tracer := mon.Tracer()
	var caller core.Address
	if msg := ec.ictx.Message; msg != nil {
		caller = msg.Sender
	}
	if err := tracer.BeginCall(security.CallFrame{
		Caller:   caller,
		Contract: ec.address(),
		Method:   ec.method.Name,
		Class:    ec.method.Class,
	}); err != nil {
		return nil, err
	}
	defer tracer.EndCall()

	if ec.method.Class == core.ClassPayable {
		if v := ec.ictx.Message.Value; !v.IsZero() {
			if err := ec.overlay.Credit(ec.address(), v); err != nil {
				return nil, fmt.Errorf("%w: attached value: %w", core.ErrExecutionFault, err)
			}
		}
	}

	ret, err := e.execute(ec, args)
	if mon.Exceeded() {
		return nil, mon.Err()
	}
	return ret, err
}

// execute runs one frame and settles its transfers. Panics raised by
// contract code become execution faults.
func (e *Engine) execute(ec *ExecutionContext, args []any) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Contract panicked", "contract", ec.address(), "method", ec.method.Name, "panic", r)
			ret, err = nil, fmt.Errorf("%w: panic: %v", core.ErrExecutionFault, r)
		}
	}()

	ret, err = ec.contract.program.Run(ec.inv.ctx, ec, ec.method.Name, args)
	if err != nil {
		return nil, err
	}
	if ec.inv.monitor.Exceeded() {
		return nil, ec.inv.monitor.Err()
	}
	if ret, err = core.Normalize(ret); err != nil {
		return nil, fmt.Errorf("%w: return value: %w", core.ErrExecutionFault, err)
	}
	if err = ec.settle(); err != nil {
		return nil, err
	}
	return ret, nil
}

// commit stages the root overlay and applies it in one batch. Event
// sequence numbers are taken under the commit lock so they follow commit
// order.
func (e *Engine) commit(ec *ExecutionContext, height uint64) ([]types.Event, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	root := ec.address()
	addrs := ec.overlay.Touched()
	found := false
	for _, a := range addrs {
		if a == root {
			found = true
			break
		}
	}
	if !found {
		addrs = append(addrs, root)
	}

	fault := func(err error) ([]types.Event, error) {
		e.state.Discard(addrs...)
		return nil, fmt.Errorf("%w: commit: %w", core.ErrExecutionFault, err)
	}

	for addr, ws := range ec.overlay.Writes() {
		for field, v := range ws {
			if isTransient(field) {
				continue
			}
			if v == nil {
				e.state.StageDelete(addr, field)
				continue
			}
			if err := e.state.StageWrite(addr, field, v); err != nil {
				return fault(err)
			}
		}
	}
	for addr, amount := range ec.overlay.Balances() {
		e.state.StageBalance(root, addr, amount)
	}

	events := e.emitter.Assign(ec.overlay.Events())
	e.state.StageEvents(root, events...)

	if err := e.state.Commit(height, addrs...); err != nil {
		return fault(err)
	}

	e.emitter.Publish(events)
	e.metrics.ObserveEvents(len(events))
	return events, nil
}

func (e *Engine) fillWrites(res *types.InvocationResult, ec *ExecutionContext) {
	root := ec.address()
	for addr, ws := range ec.overlay.Writes() {
		persistent := make(types.WriteSet, len(ws))
		for field, v := range ws {
			if !isTransient(field) {
				persistent[field] = v
			}
		}
		if len(persistent) == 0 {
			continue
		}
		if addr == root {
			res.WriteSet = persistent
			continue
		}
		if res.ForeignWrites == nil {
			res.ForeignWrites = make(map[core.Address]types.WriteSet)
		}
		res.ForeignWrites[addr] = persistent
	}
	res.Transfers = ec.settled
}

// classify fills in a rolled-back result.
func (e *Engine) classify(res *types.InvocationResult, err error, mon *security.ResourceMonitor) {
	res.Outcome = types.OutcomeRolledBack
	res.Success = false
	res.Err = err

	var revert *core.RevertError
	switch {
	case mon.Exceeded() || errors.Is(err, core.ErrQuotaExceeded):
		res.Failure = types.FailureQuota
		res.Reason = err.Error()
		if qerr := mon.Err(); qerr != nil {
			res.Reason = qerr.Error()
		}
	case errors.As(err, &revert):
		res.Failure = types.FailureRevert
		res.Reason = revert.Reason
	case errors.Is(err, core.ErrInsufficientBalance):
		res.Failure = types.FailureInsufficientBalance
		res.Reason = core.ErrInsufficientBalance.Error()
	default:
		res.Failure = types.FailureFault
		res.Reason = core.ErrExecutionFault.Error()
	}
}

func (e *Engine) observe(res *types.InvocationResult, elapsed time.Duration) {
	e.metrics.ObserveInvocation(res.Class.String(), res.Outcome.String(), res.Failure.String(), elapsed, res.GasUsed)
}

// ReadField returns the committed value of a persistent field declared
// visible to views.
func (e *Engine) ReadField(addr core.Address, field string) (any, error) {
	lc, err := e.resolve(addr)
	if err != nil {
		return nil, err
	}
	f, ok := lc.desc.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownField, field)
	}
	if !f.Persistent || f.Visibility != core.VisibilityView {
		return nil, fmt.Errorf("%w: %s is not readable by views", core.ErrAccessDenied, field)
	}
	v, _, err := e.state.Get(addr, field)
	return v, err
}

// Balance returns the committed balance of addr.
func (e *Engine) Balance(addr core.Address) (*uint256.Int, error) {
	return e.state.Balance(addr)
}

// Events returns the committed events of a contract in sequence order.
func (e *Engine) Events(addr core.Address) ([]types.Event, error) {
	return e.state.Backend().Events(addr)
}

// Subscribe streams events committed from now on.
func (e *Engine) Subscribe(contract core.Address, name string, filter event.Filter) (*event.Subscription, error) {
	return e.emitter.Subscribe(contract, name, filter)
}

// PutReceipt stores the receipt of an included transaction.
func (e *Engine) PutReceipt(r *types.Receipt) error {
	return e.state.Backend().PutReceipt(r)
}

// Receipt loads a receipt by transaction hash.
func (e *Engine) Receipt(hash core.Hash) (*types.Receipt, bool, error) {
	return e.state.Backend().Receipt(hash)
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.emitter.Close()
	var errs []error
	if err := e.wasm.Close(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := e.state.Backend().Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
