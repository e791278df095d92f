package types

import (
	"fmt"

	"github.com/govm-net/cvm/core"
	"github.com/holiman/uint256"
)

// Outcome separates calls that never ran from those that ran.
type Outcome uint8

const (
	OutcomeNotExecuted Outcome = iota
	OutcomeRolledBack
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotExecuted:
		return "not-executed"
	case OutcomeRolledBack:
		return "rolled-back"
	case OutcomeCommitted:
		return "committed"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for v := OutcomeNotExecuted; v <= OutcomeCommitted; v++ {
		if v.String() == string(text) {
			*o = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown outcome %q", core.ErrInvalidArgument, text)
}

// FailureKind is the reason code attached to a failed invocation.
type FailureKind uint8

const (
	FailureNone FailureKind = iota
	FailureRejected
	FailureRevert
	FailureFault
	FailureInsufficientBalance
	FailureQuota
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRejected:
		return "rejected"
	case FailureRevert:
		return "revert"
	case FailureFault:
		return "fault"
	case FailureInsufficientBalance:
		return "insufficient-balance"
	case FailureQuota:
		return "quota"
	}
	return fmt.Sprintf("failure(%d)", uint8(k))
}

func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FailureKind) UnmarshalText(text []byte) error {
	for v := FailureNone; v <= FailureQuota; v++ {
		if v.String() == string(text) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown failure kind %q", core.ErrInvalidArgument, text)
}

// WriteSet maps field names to their new value. A nil value deletes the field.
type WriteSet map[string]any

// Transfer is an outgoing value transfer queued by a contract.
type Transfer struct {
	From   core.Address `json:"from"`
	To     core.Address `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// Event is a named record emitted by a contract. Sequence is zero until the
// emitting invocation commits.
type Event struct {
	Sequence uint64         `json:"sequence"`
	Contract core.Address   `json:"contract"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	Height   uint64         `json:"height"`
	TxHash   core.Hash      `json:"tx_hash"`
}

// InvocationResult is what every invocation returns, whatever happened.
type InvocationResult struct {
	Contract core.Address `json:"contract"`
	Method   string       `json:"method"`
	Class    core.Class   `json:"class"`

	Outcome Outcome     `json:"outcome"`
	Success bool        `json:"success"`
	Return  any         `json:"return,omitempty"`
	Failure FailureKind `json:"failure"`
	Reason  string      `json:"reason,omitempty"`

	WriteSet      WriteSet                  `json:"write_set,omitempty"`
	ForeignWrites map[core.Address]WriteSet `json:"foreign_writes,omitempty"`
	Transfers     []Transfer                `json:"transfers,omitempty"`
	Events        []Event                   `json:"events,omitempty"`
	GasUsed       uint64                    `json:"gas_used"`

	// Err keeps the underlying error for diagnostics; it is not part of
	// the serialized result.
	Err error `json:"-"`
}

// Executed reports whether the method body ran.
func (r *InvocationResult) Executed() bool {
	return r.Outcome != OutcomeNotExecuted
}
