// Package store is the state store adapter: it keeps contract fields,
// balances, committed events and receipts on a pluggable key-value backend
// and exposes the staged get / stage / commit / discard protocol the engine
// writes through.
package store

import (
	"errors"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("store closed")

// Record is a committed field value and the height of its last write.
type Record struct {
	Value  []byte `json:"value"` // canonical JSON, see core.EncodeValue
	Height uint64 `json:"height"`
}

// FieldWrite sets or, when Value is nil, deletes one field.
type FieldWrite struct {
	Contract core.Address
	Field    string
	Value    []byte
}

// BalanceWrite sets an absolute balance.
type BalanceWrite struct {
	Address core.Address
	Amount  *uint256.Int
}

// Batch is applied atomically by Backend.Apply.
type Batch struct {
	Height   uint64
	Fields   []FieldWrite
	Balances []BalanceWrite
	Events   []types.Event
}

// Empty reports whether the batch carries nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Fields) == 0 && len(b.Balances) == 0 && len(b.Events) == 0
}

// Backend is the durable key-value layer under the adapter.
type Backend interface {
	// GetField returns the committed record of a field.
	GetField(contract core.Address, field string) (Record, bool, error)
	// Fields returns every committed field of a contract.
	Fields(contract core.Address) (map[string]Record, error)
	// Balance returns the committed balance, zero when unknown.
	Balance(addr core.Address) (*uint256.Int, error)
	// Apply writes the whole batch or nothing.
	Apply(batch *Batch) error
	// Events returns committed events of a contract in sequence order.
	Events(contract core.Address) ([]types.Event, error)
	// LastSequence is the highest committed event sequence number.
	LastSequence() (uint64, error)
	// PutReceipt stores the receipt of an included transaction.
	PutReceipt(r *types.Receipt) error
	// Receipt loads a receipt by transaction hash.
	Receipt(hash core.Hash) (*types.Receipt, bool, error)
	Close() error
}
