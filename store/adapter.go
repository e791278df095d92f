package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// Adapter stages writes per contract address and commits them atomically.
// Reads always see committed state only. Callers serialize access to a
// given address; the adapter itself is safe for concurrent use.
type Adapter struct {
	backend Backend

	mu     sync.Mutex
	staged map[core.Address]*staging
}

type staging struct {
	fields   map[string][]byte // nil value deletes
	balances map[core.Address]*uint256.Int
	events   []types.Event
}

// NewAdapter wraps a backend.
func NewAdapter(backend Backend) *Adapter {
	return &Adapter{
		backend: backend,
		staged:  make(map[core.Address]*staging),
	}
}

// Backend returns the underlying backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Get returns the committed value of a field.
func (a *Adapter) Get(contract core.Address, field string) (any, bool, error) {
	rec, ok, err := a.backend.GetField(contract, field)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := core.DecodeValue(rec.Value)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s.%s: %w", contract, field, err)
	}
	return v, true, nil
}

// Balance returns the committed balance of addr.
func (a *Adapter) Balance(addr core.Address) (*uint256.Int, error) {
	return a.backend.Balance(addr)
}

func (a *Adapter) stagingFor(contract core.Address) *staging {
	s, ok := a.staged[contract]
	if !ok {
		s = &staging{
			fields:   make(map[string][]byte),
			balances: make(map[core.Address]*uint256.Int),
		}
		a.staged[contract] = s
	}
	return s
}

// StageWrite stages a field write. A nil value stages a delete. Values
// that cannot be serialized are refused here, before anything is staged.
func (a *Adapter) StageWrite(contract core.Address, field string, value any) error {
	if value == nil {
		a.StageDelete(contract, field)
		return nil
	}
	data, err := core.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("stage %s.%s: %w", contract, field, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stagingFor(contract).fields[field] = data
	return nil
}

// StageDelete stages the removal of a field.
func (a *Adapter) StageDelete(contract core.Address, field string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stagingFor(contract).fields[field] = nil
}

// StageBalance stages an absolute balance for addr under the commit scope
// of contract.
func (a *Adapter) StageBalance(contract, addr core.Address, amount *uint256.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stagingFor(contract).balances[addr] = new(uint256.Int).Set(amount)
}

// StageEvents stages events emitted by contract. Sequence numbers must
// already be assigned.
func (a *Adapter) StageEvents(contract core.Address, events ...types.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stagingFor(contract)
	s.events = append(s.events, events...)
}

// Commit applies everything staged for the given addresses in one atomic
// backend batch. On error nothing is written and the staged data is kept
// for the caller to Discard.
func (a *Adapter) Commit(height uint64, contracts ...core.Address) error {
	a.mu.Lock()
	batch := &Batch{Height: height}
	balances := make(map[core.Address]*uint256.Int)
	for _, contract := range sortAddresses(contracts) {
		s, ok := a.staged[contract]
		if !ok {
			continue
		}
		fields := make([]string, 0, len(s.fields))
		for f := range s.fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			batch.Fields = append(batch.Fields, FieldWrite{Contract: contract, Field: f, Value: s.fields[f]})
		}
		for addr, amount := range s.balances {
			balances[addr] = amount
		}
		batch.Events = append(batch.Events, s.events...)
	}
	a.mu.Unlock()

	addrs := make([]core.Address, 0, len(balances))
	for addr := range balances {
		addrs = append(addrs, addr)
	}
	for _, addr := range sortAddresses(addrs) {
		batch.Balances = append(batch.Balances, BalanceWrite{Address: addr, Amount: balances[addr]})
	}
	sort.SliceStable(batch.Events, func(i, j int) bool {
		return batch.Events[i].Sequence < batch.Events[j].Sequence
	})

	if !batch.Empty() {
		if err := a.backend.Apply(batch); err != nil {
			return fmt.Errorf("commit at height %d: %w", height, err)
		}
	}
	a.Discard(contracts...)
	return nil
}

// Discard drops everything staged for the given addresses.
func (a *Adapter) Discard(contracts ...core.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, contract := range contracts {
		delete(a.staged, contract)
	}
}

// Staged reports whether anything is staged for contract.
func (a *Adapter) Staged(contract core.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.staged[contract]
	return ok
}

func sortAddresses(addrs []core.Address) []core.Address {
	out := append([]core.Address(nil), addrs...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}
