package types

import (
	"fmt"

	"github.com/govm-net/cvm/core"
)

// TxStatus is a lifecycle state of a submitted transaction.
type TxStatus uint8

const (
	TxSubmitted TxStatus = iota
	TxPoolAccepted
	TxIncluded
	TxSucceeded
	TxRolledBack
	TxRejected
)

func (s TxStatus) String() string {
	switch s {
	case TxSubmitted:
		return "submitted"
	case TxPoolAccepted:
		return "pool-accepted"
	case TxIncluded:
		return "included"
	case TxSucceeded:
		return "succeeded"
	case TxRolledBack:
		return "rolled-back"
	case TxRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s TxStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TxStatus) UnmarshalText(text []byte) error {
	for v := TxSubmitted; v <= TxRejected; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown tx status %q", core.ErrInvalidArgument, text)
}

// Final reports whether no further transition is possible.
func (s TxStatus) Final() bool {
	return s == TxSucceeded || s == TxRolledBack || s == TxRejected
}

// Receipt records the outcome of an included transaction. Rolled-back
// transactions get a receipt too.
type Receipt struct {
	TxHash core.Hash         `json:"tx_hash"`
	Height uint64            `json:"height"`
	Index  int               `json:"index"`
	Status TxStatus          `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Result *InvocationResult `json:"result,omitempty"`
}
