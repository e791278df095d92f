package vm

import (
	"fmt"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// ContextParams are the inputs of BuildContext.
type ContextParams struct {
	Envelope *types.Envelope
	Header   *core.Block
	Caller   core.Address
	Contract *abi.Descriptor
	Method   *abi.Method

	// Nested marks a call made by another contract. Caller is that
	// contract and is trusted; nested calls never carry value.
	Nested bool
}

// BuildContext builds the immutable invocation context for one call.
//
// pure methods get neither block nor message data. view methods get
// message data flagged untrusted, with a caller supplied sender.
// transaction and payable methods require an envelope verified upstream;
// only payable methods see a non-zero attached value.
func BuildContext(p ContextParams) (*core.InvocationContext, error) {
	class := p.Method.Class
	ictx := &core.InvocationContext{
		Contract: p.Contract.Address,
		Deployer: p.Contract.Deployer,
	}

	value := new(uint256.Int)
	if p.Envelope != nil && !p.Nested {
		v, err := core.AmountFromBig(p.Envelope.Value)
		if err != nil {
			return nil, err
		}
		if !v.IsZero() && class != core.ClassPayable {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrNotPayable, p.Method.Name, class)
		}
		value = v
	}

	if class == core.ClassPure {
		return ictx, nil
	}

	block := &core.Block{}
	if p.Header != nil {
		*block = *p.Header
	}
	ictx.Block = block

	msg := &core.Message{
		Sender: p.Caller,
		Method: p.Method.Name,
		Value:  new(uint256.Int),
	}
	ictx.Message = msg

	switch {
	case p.Nested:
		msg.Trusted = true
	case class == core.ClassView:
		if p.Envelope != nil {
			msg.Sender = p.Envelope.Sender
		}
	case class.Mutating():
		if p.Envelope == nil || !p.Envelope.Verified {
			return nil, fmt.Errorf("%w: %s requires a verified transaction", core.ErrUnauthorizedContext, p.Method.Name)
		}
		msg.Sender = p.Envelope.Sender
		msg.Signers = append([]core.Address(nil), p.Envelope.Signers...)
		if len(msg.Signers) == 0 {
			msg.Signers = []core.Address{p.Envelope.Sender}
		}
		msg.Trusted = true
		if class == core.ClassPayable {
			msg.Value = value
		}
	default:
		return nil, fmt.Errorf("%w: %s is %s", core.ErrNotExternallyCallable, p.Method.Name, class)
	}
	return ictx, nil
}
