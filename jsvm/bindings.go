package jsvm

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/govm-net/cvm/core"
)

// invocation binds one contract call to a fresh goja runtime.
type invocation struct {
	rt  *goja.Runtime
	env core.Context

	hostErr error // last error raised by a host function
}

func (inv *invocation) install() error {
	host := inv.rt.NewObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"get":      inv.get,
		"set":      inv.set,
		"del":      inv.del,
		"balance":  inv.balance,
		"transfer": inv.transfer,
		"emit":     inv.emit,
		"call":     inv.call,
	} {
		if err := host.Set(name, fn); err != nil {
			return err
		}
	}
	return inv.rt.Set("__host", host)
}

// fail throws err into the script. Quota errors also interrupt the
// runtime so that scripts cannot swallow them.
func (inv *invocation) fail(err error) goja.Value {
	inv.hostErr = err
	if errors.Is(err, core.ErrQuotaExceeded) {
		inv.rt.Interrupt(err)
	}
	panic(inv.rt.NewGoError(err))
}

func (inv *invocation) encode(v any) goja.Value {
	data, err := core.EncodeValue(v)
	if err != nil {
		return inv.fail(err)
	}
	return inv.rt.ToValue(string(data))
}

func (inv *invocation) decode(s string) any {
	v, err := core.DecodeValue([]byte(s))
	if err != nil {
		inv.fail(fmt.Errorf("%w: %v", core.ErrUnsupportedValue, err))
	}
	return v
}

func (inv *invocation) get(call goja.FunctionCall) goja.Value {
	v, err := inv.env.Get(call.Argument(0).String())
	if err != nil {
		return inv.fail(err)
	}
	return inv.encode(v)
}

func (inv *invocation) set(call goja.FunctionCall) goja.Value {
	v := inv.decode(call.Argument(1).String())
	if err := inv.env.Set(call.Argument(0).String(), v); err != nil {
		return inv.fail(err)
	}
	return goja.Undefined()
}

func (inv *invocation) del(call goja.FunctionCall) goja.Value {
	if err := inv.env.Delete(call.Argument(0).String()); err != nil {
		return inv.fail(err)
	}
	return goja.Undefined()
}

// balance is returned as a decimal string; it does not fit a JS number.
func (inv *invocation) balance(goja.FunctionCall) goja.Value {
	b, err := inv.env.Balance()
	if err != nil {
		return inv.fail(err)
	}
	return inv.rt.ToValue(b.Dec())
}

func (inv *invocation) transfer(call goja.FunctionCall) goja.Value {
	to, err := core.ParseAddress(call.Argument(0).String())
	if err != nil {
		return inv.fail(err)
	}
	amount, err := core.ParseAmount(call.Argument(1).String())
	if err != nil {
		return inv.fail(err)
	}
	if err := inv.env.Transfer(to, amount); err != nil {
		return inv.fail(err)
	}
	return goja.Undefined()
}

func (inv *invocation) emit(call goja.FunctionCall) goja.Value {
	payload, ok := inv.decode(call.Argument(1).String()).(map[string]any)
	if !ok {
		return inv.fail(fmt.Errorf("%w: event payload must be a record", core.ErrInvalidArgument))
	}
	if err := inv.env.Emit(call.Argument(0).String(), payload); err != nil {
		return inv.fail(err)
	}
	return goja.Undefined()
}

func (inv *invocation) call(call goja.FunctionCall) goja.Value {
	contract, err := core.ParseAddress(call.Argument(0).String())
	if err != nil {
		return inv.fail(err)
	}
	args, _ := inv.decode(call.Argument(2).String()).([]any)
	out, err := inv.env.Call(contract, call.Argument(1).String(), args...)
	if err != nil {
		return inv.fail(err)
	}
	return inv.encode(out)
}

// contextInfo is the JSON shape of the ctx object seen by scripts.
func contextInfo(env core.Context) map[string]any {
	info := map[string]any{"address": env.ContractAddress()}
	if env.Class() == core.ClassPure {
		return info
	}
	info["deployer"] = env.Deployer()
	info["class"] = env.Class().String()
	if msg := env.Message(); msg != nil {
		signers := make([]any, len(msg.Signers))
		for i, s := range msg.Signers {
			signers[i] = s
		}
		info["sender"] = msg.Sender
		info["signers"] = signers
		info["method"] = msg.Method
		info["value"] = core.AmountOrZero(msg.Value).Dec()
		info["trusted"] = msg.Trusted
	}
	if blk := env.Block(); blk != nil {
		info["block"] = map[string]any{
			"height":    blk.Height,
			"hash":      blk.Hash,
			"timestamp": blk.Timestamp,
		}
	}
	return info
}
