// Package memory is the map-backed state backend, used by tests and by
// nodes that do not need state across restarts.
package memory

import (
	"sort"
	"sync"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// Backend keeps everything in maps guarded by one lock.
type Backend struct {
	mu       sync.RWMutex
	closed   bool
	fields   map[core.Address]map[string]store.Record
	balances map[core.Address]*uint256.Int
	events   []types.Event
	receipts map[core.Hash]*types.Receipt
	lastSeq  uint64
}

func init() {
	store.Register(store.MemoryBackendType, func(map[string]any) (store.Backend, error) {
		return New(), nil
	})
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		fields:   make(map[core.Address]map[string]store.Record),
		balances: make(map[core.Address]*uint256.Int),
		receipts: make(map[core.Hash]*types.Receipt),
	}
}

func (b *Backend) GetField(contract core.Address, field string) (store.Record, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return store.Record{}, false, store.ErrClosed
	}
	rec, ok := b.fields[contract][field]
	if !ok {
		return store.Record{}, false, nil
	}
	return store.Record{Value: append([]byte(nil), rec.Value...), Height: rec.Height}, true, nil
}

func (b *Backend) Fields(contract core.Address) (map[string]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	out := make(map[string]store.Record, len(b.fields[contract]))
	for f, rec := range b.fields[contract] {
		out[f] = store.Record{Value: append([]byte(nil), rec.Value...), Height: rec.Height}
	}
	return out, nil
}

func (b *Backend) Balance(addr core.Address) (*uint256.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	if v, ok := b.balances[addr]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

// Apply validates nothing beyond closure; the batch is built by the
// adapter and applied under a single lock so readers never see half of it.
func (b *Backend) Apply(batch *store.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrClosed
	}

	for _, w := range batch.Fields {
		if w.Value == nil {
			delete(b.fields[w.Contract], w.Field)
			continue
		}
		m, ok := b.fields[w.Contract]
		if !ok {
			m = make(map[string]store.Record)
			b.fields[w.Contract] = m
		}
		m[w.Field] = store.Record{Value: append([]byte(nil), w.Value...), Height: batch.Height}
	}
	for _, w := range batch.Balances {
		b.balances[w.Address] = new(uint256.Int).Set(w.Amount)
	}
	for _, ev := range batch.Events {
		b.events = append(b.events, ev)
		if ev.Sequence > b.lastSeq {
			b.lastSeq = ev.Sequence
		}
	}
	return nil
}

func (b *Backend) Events(contract core.Address) ([]types.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	var out []types.Event
	for _, ev := range b.events {
		if ev.Contract == contract {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (b *Backend) LastSequence() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq, nil
}

func (b *Backend) PutReceipt(r *types.Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	cp := *r
	b.receipts[r.TxHash] = &cp
	return nil
}

func (b *Backend) Receipt(hash core.Hash) (*types.Receipt, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, store.ErrClosed
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
