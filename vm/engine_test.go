package vm

import (
	"context"
	_ "embed"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/native"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"
)

//go:embed testdata/counter.js
var counterCode []byte

//go:embed testdata/counter.json
var counterManifest []byte

//go:embed testdata/proxy.js
var proxyCode []byte

//go:embed testdata/proxy.json
var proxyManifest []byte

var (
	deployer = core.Address{0xde}
	alice    = core.Address{0xa1}
	bob      = core.Address{0xb0}

	txNonce atomic.Uint64
)

func newTestEngine(t *testing.T, options ...func(*Config)) *Engine {
	t.Helper()
	config := DefaultConfig()
	for _, option := range options {
		option(config)
	}
	engine, err := NewEngine(config)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func deployContract(t *testing.T, engine *Engine, manifest, code []byte, nonce uint64) core.Address {
	t.Helper()
	m, err := abi.ParseManifest(manifest)
	require.NoError(t, err)
	desc, err := engine.Deploy(context.Background(), api.DeployRequest{
		Manifest: m,
		Code:     code,
		Deployer: deployer,
		Nonce:    nonce,
		Height:   1,
	})
	require.NoError(t, err)
	return desc.Address
}

// txRequest builds a request carrying a verified envelope from alice.
func txRequest(contract core.Address, method string, args ...any) api.Request {
	return api.Request{
		Contract: contract,
		Method:   method,
		Args:     args,
		Header:   &core.Block{Height: 2, Timestamp: 1700000000000},
		Envelope: &types.Envelope{
			Contract: contract,
			Method:   method,
			Args:     args,
			Nonce:    txNonce.Add(1),
			Sender:   alice,
			Verified: true,
		},
	}
}

func queryRequest(contract core.Address, method string, args ...any) api.Request {
	return api.Request{Contract: contract, Method: method, Args: args, Caller: bob}
}

func invoke(t *testing.T, engine *Engine, req api.Request) *types.InvocationResult {
	t.Helper()
	res, err := engine.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func committedFields(t *testing.T, engine *Engine, addr core.Address) map[string]store.Record {
	t.Helper()
	fields, err := engine.Store().Backend().Fields(addr)
	require.NoError(t, err)
	return fields
}

func TestEngineSetValue(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	res := invoke(t, engine, queryRequest(counter, "getValue"))
	assert.Equal(t, types.OutcomeCommitted, res.Outcome)
	assert.Equal(t, int64(0), res.Return)

	res = invoke(t, engine, txRequest(counter, "setValue", 5))
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, types.OutcomeCommitted, res.Outcome)
	assert.Equal(t, int64(0), res.Return)
	assert.Equal(t, types.WriteSet{"value": int64(5)}, res.WriteSet)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, "ValueSet", ev.Name)
	assert.Len(t, ev.Payload, 3)
	assert.Equal(t, alice.String(), ev.Payload["by"])
	assert.Equal(t, int64(0), ev.Payload["oldValue"])
	assert.Equal(t, int64(5), ev.Payload["newValue"])
	assert.Equal(t, uint64(2), ev.Height)
	assert.NotZero(t, ev.Sequence)
	assert.NotZero(t, res.GasUsed)

	for _, bad := range []any{-1, 1.5} {
		res = invoke(t, engine, txRequest(counter, "setValue", bad))
		assert.False(t, res.Success)
		assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
		assert.Equal(t, types.FailureRevert, res.Failure)
		assert.Empty(t, res.WriteSet)
		assert.Empty(t, res.Events)
	}

	res, err := engine.Query(context.Background(), queryRequest(counter, "getValue"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Return)

	v, err := engine.ReadField(counter, "value")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	events, err := engine.Events(counter)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	res = invoke(t, engine, txRequest(counter, "setValue", 9))
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(5), res.Return)
	assert.Equal(t, int64(5), res.Events[0].Payload["oldValue"])
}

func TestEngineNativeContract(t *testing.T) {
	nativeRT := native.NewRuntime()
	nativeRT.MustRegister("store", native.Contract{
		"set": func(ctx core.Context, args []any) (any, error) {
			return nil, ctx.Set("value", args[0])
		},
		"get": func(ctx core.Context, args []any) (any, error) {
			return ctx.Get("value")
		},
		"explode": func(ctx core.Context, args []any) (any, error) {
			panic("boom")
		},
		"whoami": func(ctx core.Context, args []any) (any, error) {
			return map[string]any{
				"self":     ctx.ContractAddress().String(),
				"deployer": ctx.Deployer().String(),
				"message":  ctx.Message() != nil,
				"block":    ctx.Block() != nil,
			}, nil
		},
	})
	engine := newTestEngine(t, func(c *Config) { c.Native = nativeRT })

	addr := deployContract(t, engine, []byte(`{
  "runtime": "native",
  "functions": [
    {"name": "set", "markers": ["transaction"], "inputs": [{"type": "number"}]},
    {"name": "get", "markers": ["view"]},
    {"name": "explode", "markers": ["transaction"]},
    {"name": "whoami", "markers": ["pure"]}
  ],
  "fields": [{"name": "value", "markers": ["state", "view"]}]
}`), []byte("store"), 0)

	res := invoke(t, engine, txRequest(addr, "set", 5))
	require.True(t, res.Success, res.Reason)

	res = invoke(t, engine, queryRequest(addr, "get"))
	assert.Equal(t, int64(5), res.Return)

	res = invoke(t, engine, txRequest(addr, "explode"))
	assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
	assert.Equal(t, types.FailureFault, res.Failure)
	assert.Equal(t, "execution fault", res.Reason)
	assert.ErrorIs(t, res.Err, core.ErrExecutionFault)

	// pure methods only know their own address
	res, err := engine.Query(context.Background(), queryRequest(addr, "whoami"))
	require.NoError(t, err)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, map[string]any{
		"self":     addr.String(),
		"deployer": core.ZeroAddress.String(),
		"message":  false,
		"block":    false,
	}, res.Return)
}

func TestEngineRejectsBeforeExecution(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	ctx := context.Background()

	unsigned := txRequest(counter, "setValue", 1)
	unsigned.Envelope = nil

	unverified := txRequest(counter, "setValue", 1)
	unverified.Envelope.Verified = false

	mismatched := txRequest(counter, "setValue", 1)
	mismatched.Envelope.Method = "crash"

	valued := txRequest(counter, "setValue", 1)
	valued.Envelope.Value = big.NewInt(5)

	cases := []struct {
		name string
		req  api.Request
		err  error
	}{
		{"unknown contract", queryRequest(core.Address{0x99}, "getValue"), core.ErrContractNotFound},
		{"unknown method", queryRequest(counter, "nope"), core.ErrMethodNotFound},
		{"internal method", queryRequest(counter, "helper"), core.ErrNotExternallyCallable},
		{"no envelope", unsigned, core.ErrUnauthorizedCall},
		{"unverified", unverified, core.ErrUnauthorizedCall},
		{"envelope for another method", mismatched, core.ErrUnauthorizedCall},
		{"wrong argument type", txRequest(counter, "setValue", "x"), core.ErrInvalidArgumentType},
		{"wrong argument count", txRequest(counter, "setValue"), core.ErrInvalidArgumentType},
		{"value on non-payable", valued, core.ErrNotPayable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := committedFields(t, engine, counter)
			res, err := engine.Invoke(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
			require.NotNil(t, res)
			assert.Equal(t, types.OutcomeNotExecuted, res.Outcome)
			assert.Equal(t, types.FailureRejected, res.Failure)
			assert.False(t, res.Executed())
			assert.Equal(t, before, committedFields(t, engine, counter))
		})
	}

	res, err := engine.Query(ctx, txRequest(counter, "setValue", 1))
	assert.ErrorIs(t, err, core.ErrNotReadOnly)
	assert.Equal(t, types.OutcomeNotExecuted, res.Outcome)
}

func TestEnginePureNeverTouchesState(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	invoke(t, engine, txRequest(counter, "setValue", 3))

	before := committedFields(t, engine, counter)
	events, err := engine.Events(counter)
	require.NoError(t, err)

	r := rand.New(7)
	for i := 0; i < 50; i++ {
		x := r.Int63n(1<<40) - 1<<39
		res, err := engine.Query(context.Background(), queryRequest(counter, "double", x))
		require.NoError(t, err)
		require.True(t, res.Success, res.Reason)
		assert.Equal(t, 2*x, res.Return)
		assert.Empty(t, res.WriteSet)
		assert.Empty(t, res.Events)
	}

	assert.Equal(t, before, committedFields(t, engine, counter))
	after, err := engine.Events(counter)
	require.NoError(t, err)
	assert.Equal(t, events, after)
}

func TestEngineViewIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	before := committedFields(t, engine, counter)

	// transient fields start from their initial value on every call
	for i := 0; i < 3; i++ {
		res := invoke(t, engine, queryRequest(counter, "tally"))
		require.True(t, res.Success, res.Reason)
		assert.Equal(t, int64(1), res.Return)
		assert.Empty(t, res.WriteSet)
	}
	assert.Equal(t, before, committedFields(t, engine, counter))

	res := invoke(t, engine, queryRequest(counter, "writeFromView", 9))
	assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
	assert.ErrorIs(t, res.Err, core.ErrAccessDenied)
	assert.Equal(t, before, committedFields(t, engine, counter))
}

func TestEngineRollbackLeavesStateIdentical(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	invoke(t, engine, txRequest(counter, "setValue", 8))

	before := committedFields(t, engine, counter)
	events, err := engine.Events(counter)
	require.NoError(t, err)

	res := invoke(t, engine, txRequest(counter, "failAfterWrite", 99))
	assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
	assert.Equal(t, types.FailureRevert, res.Failure)
	assert.Equal(t, "changed my mind", res.Reason)
	assert.Empty(t, res.WriteSet)
	assert.Empty(t, res.Events)
	assert.True(t, res.Executed())

	res = invoke(t, engine, txRequest(counter, "crash"))
	assert.Equal(t, types.FailureFault, res.Failure)
	assert.Equal(t, "execution fault", res.Reason)

	assert.Equal(t, before, committedFields(t, engine, counter))
	after, err := engine.Events(counter)
	require.NoError(t, err)
	assert.Equal(t, events, after)
}

func TestEngineQuota(t *testing.T) {
	engine := newTestEngine(t, func(c *Config) {
		c.Contract.MaxDuration = 150 * time.Millisecond
		c.Contract.MaxGas = 20000
	})
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	before := committedFields(t, engine, counter)

	start := time.Now()
	res := invoke(t, engine, txRequest(counter, "spin"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
	assert.Equal(t, types.FailureQuota, res.Failure)
	assert.ErrorIs(t, res.Err, core.ErrQuotaExceeded)

	// exhausting gas cannot be caught by the contract
	res = invoke(t, engine, txRequest(counter, "burn"))
	assert.Equal(t, types.FailureQuota, res.Failure)
	assert.ErrorIs(t, res.Err, core.ErrQuotaExceeded)
	assert.LessOrEqual(t, res.GasUsed, uint64(20000))

	assert.Equal(t, before, committedFields(t, engine, counter))

	// the engine keeps serving after an aborted call
	res = invoke(t, engine, txRequest(counter, "setValue", 1))
	assert.True(t, res.Success, res.Reason)
}

func TestEngineBalances(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	req := txRequest(counter, "deposit")
	req.Envelope.Value = big.NewInt(50)
	res := invoke(t, engine, req)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, "50", res.Return)

	res = invoke(t, engine, txRequest(counter, "withdraw", bob.String(), "30"))
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, "20", res.Return)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, bob, res.Transfers[0].To)
	assert.Equal(t, uint64(30), res.Transfers[0].Amount.Uint64())

	res = invoke(t, engine, txRequest(counter, "withdraw", bob.String(), "100"))
	assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
	assert.Equal(t, types.FailureInsufficientBalance, res.Failure)
	assert.Empty(t, res.Transfers)

	balance, err := engine.Balance(counter)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), balance.Uint64())
	balance, err = engine.Balance(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), balance.Uint64())
}

func TestEngineConcurrentTransfersToOneRecipient(t *testing.T) {
	sink := core.Address{0x51}
	one := uint256.NewInt(1)

	var arrived sync.WaitGroup
	arrived.Add(2)
	together := make(chan struct{})
	go func() {
		arrived.Wait()
		close(together)
	}()

	nativeRT := native.NewRuntime()
	nativeRT.MustRegister("vault", native.Contract{
		"fund": func(ctx core.Context, args []any) (any, error) {
			return nil, nil
		},
		"pay": func(ctx core.Context, args []any) (any, error) {
			to, err := core.ParseAddress(args[0].(string))
			if err != nil {
				return nil, err
			}
			return nil, ctx.Transfer(to, one)
		},
	})
	nativeRT.MustRegister("relay", native.Contract{
		"run": func(ctx core.Context, args []any) (any, error) {
			vault, err := core.ParseAddress(args[0].(string))
			if err != nil {
				return nil, err
			}
			if _, err := ctx.Call(vault, "pay", args[1]); err != nil {
				return nil, err
			}
			// hold the settled transfer open until the other relay got here
			arrived.Done()
			select {
			case <-together:
			case <-time.After(300 * time.Millisecond):
			}
			return nil, nil
		},
	})
	engine := newTestEngine(t, func(c *Config) { c.Native = nativeRT })

	vaultManifest := []byte(`{
  "runtime": "native",
  "functions": [
    {"name": "fund", "markers": ["payable"]},
    {"name": "pay", "markers": ["transaction"], "inputs": [{"type": "string"}]}
  ]
}`)
	relayManifest := []byte(`{
  "runtime": "native",
  "functions": [
    {"name": "run", "markers": ["transaction"], "inputs": [{"type": "string"}, {"type": "string"}]}
  ]
}`)

	var vaults, relays []core.Address
	for i := uint64(0); i < 2; i++ {
		vault := deployContract(t, engine, vaultManifest, []byte("vault"), i)
		req := txRequest(vault, "fund")
		req.Envelope.Value = big.NewInt(10)
		res := invoke(t, engine, req)
		require.True(t, res.Success, res.Reason)
		vaults = append(vaults, vault)
		relays = append(relays, deployContract(t, engine, relayManifest, []byte("relay"), i))
	}

	var wg sync.WaitGroup
	results := make([]*types.InvocationResult, 2)
	for i := range relays {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Invoke(context.Background(), txRequest(relays[i], "run", vaults[i].String(), sink.String()))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		require.True(t, res.Success, res.Reason)
		require.Len(t, res.Transfers, 1)
	}
	balance, err := engine.Balance(sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), balance.Uint64())
	for _, vault := range vaults {
		balance, err := engine.Balance(vault)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), balance.Uint64())
	}
}

func TestEngineNestedCalls(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	proxy := deployContract(t, engine, proxyManifest, proxyCode, 0)

	res := invoke(t, engine, txRequest(proxy, "forward", counter.String(), 7))
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, types.WriteSet{"last": int64(7)}, res.WriteSet)
	assert.Equal(t, types.WriteSet{"value": int64(7)}, res.ForeignWrites[counter])
	require.Len(t, res.Events, 1)
	assert.Equal(t, counter, res.Events[0].Contract)
	assert.Equal(t, proxy.String(), res.Events[0].Payload["by"])

	t.Run("outer revert undoes inner writes", func(t *testing.T) {
		res := invoke(t, engine, txRequest(proxy, "forwardThenRevert", counter.String(), 11))
		assert.Equal(t, types.FailureRevert, res.Failure)
		assert.Equal(t, "outer failed", res.Reason)

		v, err := engine.ReadField(counter, "value")
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
		v, err = engine.ReadField(proxy, "last")
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
	})

	t.Run("caught inner failure rolls back only the callee", func(t *testing.T) {
		res := invoke(t, engine, txRequest(proxy, "tryFailing", counter.String(), 9))
		require.True(t, res.Success, res.Reason)
		assert.Equal(t, "recovered", res.Return)
		assert.Empty(t, res.Events)
		assert.Nil(t, res.ForeignWrites)

		v, err := engine.ReadField(counter, "value")
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
		v, err = engine.ReadField(proxy, "last")
		require.NoError(t, err)
		assert.Equal(t, int64(9), v)
	})

	t.Run("view may call views only", func(t *testing.T) {
		res, err := engine.Query(context.Background(), queryRequest(proxy, "peek", counter.String()))
		require.NoError(t, err)
		assert.Equal(t, int64(7), res.Return)

		res, err = engine.Query(context.Background(), queryRequest(proxy, "sneak", counter.String(), 1))
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeRolledBack, res.Outcome)
		assert.ErrorIs(t, res.Err, core.ErrAccessDenied)
	})

	t.Run("internal methods stay internal", func(t *testing.T) {
		res := invoke(t, engine, txRequest(proxy, "callHelper", counter.String()))
		assert.Equal(t, types.FailureFault, res.Failure)
		assert.ErrorIs(t, res.Err, core.ErrNotExternallyCallable)
	})

	t.Run("call depth is bounded", func(t *testing.T) {
		other := deployContract(t, engine, proxyManifest, proxyCode, 1)
		res := invoke(t, engine, txRequest(proxy, "loop", other.String()))
		assert.Equal(t, types.FailureQuota, res.Failure)
		assert.ErrorIs(t, res.Err, core.ErrQuotaExceeded)
	})
}

func TestEngineEventsAndSubscription(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	invoke(t, engine, txRequest(counter, "setValue", 1))

	sub, err := engine.Subscribe(counter, "ValueSet", nil)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for v := 2; v <= 4; v++ {
		res := invoke(t, engine, txRequest(counter, "setValue", v))
		require.True(t, res.Success, res.Reason)
	}

	var last uint64
	for want := int64(2); want <= 4; want++ {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, want, ev.Payload["newValue"])
			assert.Greater(t, ev.Sequence, last)
			last = ev.Sequence
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	stored, err := engine.Events(counter)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i := 1; i < len(stored); i++ {
		assert.Greater(t, stored[i].Sequence, stored[i-1].Sequence)
	}
}

func TestEngineConcurrentInvocations(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	const n = 16
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			res, err := engine.Invoke(context.Background(), txRequest(counter, "setValue", v))
			assert.NoError(t, err)
			assert.True(t, res.Success, res.Reason)
		}(i)
	}
	wg.Wait()

	events, err := engine.Events(counter)
	require.NoError(t, err)
	require.Len(t, events, n)
	seen := make(map[int64]bool)
	for i, ev := range events {
		if i > 0 {
			assert.Greater(t, ev.Sequence, events[i-1].Sequence)
		}
		seen[ev.Payload["newValue"].(int64)] = true
	}
	assert.Len(t, seen, n)

	// commit order and sequence order agree
	v, err := engine.ReadField(counter, "value")
	require.NoError(t, err)
	assert.Equal(t, events[n-1].Payload["newValue"], v)
}

func TestEngineReadField(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	v, err := engine.ReadField(counter, "value")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = engine.ReadField(counter, "owner")
	assert.ErrorIs(t, err, core.ErrAccessDenied)
	_, err = engine.ReadField(counter, "scratch")
	assert.ErrorIs(t, err, core.ErrAccessDenied)
	_, err = engine.ReadField(counter, "missing")
	assert.ErrorIs(t, err, core.ErrUnknownField)
}

func TestEngineDeployErrors(t *testing.T) {
	engine := newTestEngine(t, func(c *Config) { c.Contract.MaxCodeSize = 4096 })
	ctx := context.Background()

	manifest, err := abi.ParseManifest(counterManifest)
	require.NoError(t, err)

	_, err = engine.Deploy(ctx, api.DeployRequest{Manifest: manifest, Code: make([]byte, 5000)})
	assert.ErrorIs(t, err, core.ErrDeployment)

	_, err = engine.Deploy(ctx, api.DeployRequest{
		Manifest: &abi.Manifest{Runtime: "lua"},
		Code:     []byte("x"),
	})
	assert.ErrorIs(t, err, core.ErrDeployment)

	_, err = engine.Deploy(ctx, api.DeployRequest{Manifest: manifest, Code: []byte("function setValue(v) {}")})
	assert.ErrorIs(t, err, core.ErrDeployment)

	_, err = engine.Deploy(ctx, api.DeployRequest{
		Manifest: &abi.Manifest{
			Runtime:   "js",
			Functions: []abi.Function{{Name: "f", Markers: []string{"view", "transaction"}}},
		},
		Code: []byte("function f() {}"),
	})
	assert.ErrorIs(t, err, core.ErrDeployment)

	req := api.DeployRequest{Manifest: manifest, Code: counterCode, Deployer: deployer}
	desc, err := engine.Deploy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, api.DefaultContractAddressGenerator(deployer, core.CodeHash(counterCode), 0), desc.Address)

	_, err = engine.Deploy(ctx, req)
	assert.ErrorIs(t, err, core.ErrDeployment)

	req.Nonce = 1
	_, err = engine.Deploy(ctx, req)
	assert.NoError(t, err)
}

func TestEngineSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	config := func(c *Config) {
		c.StoreType = store.LevelDBBackendType
		c.StoreParams = map[string]any{"path": filepath.Join(dir, "state")}
		c.CodeManagerDir = filepath.Join(dir, "code")
	}

	engine := newTestEngine(t, config)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)
	res := invoke(t, engine, txRequest(counter, "setValue", 42))
	require.True(t, res.Success, res.Reason)
	first := res.Events[0].Sequence
	require.NoError(t, engine.Close())

	engine = newTestEngine(t, config)
	res = invoke(t, engine, queryRequest(counter, "getValue"))
	assert.Equal(t, int64(42), res.Return)

	desc, err := engine.Descriptor(counter)
	require.NoError(t, err)
	assert.Equal(t, deployer, desc.Deployer)
	assert.Equal(t, core.CodeHash(counterCode), desc.CodeHash)

	addrs, err := engine.Contracts()
	require.NoError(t, err)
	assert.Equal(t, []core.Address{counter}, addrs)

	res = invoke(t, engine, txRequest(counter, "setValue", 43))
	require.True(t, res.Success, res.Reason)
	assert.Greater(t, res.Events[0].Sequence, first)

	events, err := engine.Events(counter)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEngineHead(t *testing.T) {
	engine := newTestEngine(t)
	counter := deployContract(t, engine, counterManifest, counterCode, 0)

	engine.SetHead(&core.Block{Height: 77})
	req := txRequest(counter, "setValue", 1)
	req.Header = nil
	res := invoke(t, engine, req)
	require.True(t, res.Success, res.Reason)
	assert.Equal(t, uint64(77), res.Events[0].Height)
	assert.Equal(t, uint64(77), engine.Head().Height)
}
