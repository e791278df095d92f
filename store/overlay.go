package store

import (
	"sort"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
)

// Reader is the committed view an overlay falls back to.
type Reader interface {
	Get(contract core.Address, field string) (any, bool, error)
	Balance(addr core.Address) (*uint256.Int, error)
}

type entry struct {
	value   any
	deleted bool
}

// Overlay is the staged copy of state seen by one invocation. Nested
// invocations open a Child; Merge folds a child into its parent and simply
// dropping a child discards it. Nothing reaches the Reader until the
// root overlay is committed by the engine.
type Overlay struct {
	parent *Overlay
	base   Reader

	fields   map[core.Address]map[string]entry
	balances map[core.Address]*uint256.Int
	events   []types.Event
	order    []core.Address // addresses in first-touch order
	touched  map[core.Address]bool
}

// NewOverlay opens a root overlay over committed state.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{
		base:     base,
		fields:   make(map[core.Address]map[string]entry),
		balances: make(map[core.Address]*uint256.Int),
		touched:  make(map[core.Address]bool),
	}
}

// Child opens a nested overlay.
func (o *Overlay) Child() *Overlay {
	c := NewOverlay(o.base)
	c.parent = o
	return c
}

func (o *Overlay) touch(addr core.Address) {
	if !o.touched[addr] {
		o.touched[addr] = true
		o.order = append(o.order, addr)
	}
}

func (o *Overlay) lookup(contract core.Address, field string) (entry, bool) {
	for cur := o; cur != nil; cur = cur.parent {
		if e, ok := cur.fields[contract][field]; ok {
			return e, true
		}
	}
	return entry{}, false
}

// Get returns the staged or committed value. The result is a private copy.
func (o *Overlay) Get(contract core.Address, field string) (any, bool, error) {
	if e, ok := o.lookup(contract, field); ok {
		if e.deleted {
			return nil, false, nil
		}
		v, err := core.Normalize(e.value)
		return v, err == nil, err
	}
	return o.base.Get(contract, field)
}

// Set stages a field value. Cyclic or unsupported values are refused.
func (o *Overlay) Set(contract core.Address, field string, value any) error {
	v, err := core.Normalize(value)
	if err != nil {
		return err
	}
	if v == nil {
		o.Delete(contract, field)
		return nil
	}
	o.put(contract, field, entry{value: v})
	return nil
}

// Delete stages the removal of a field.
func (o *Overlay) Delete(contract core.Address, field string) {
	o.put(contract, field, entry{deleted: true})
}

func (o *Overlay) put(contract core.Address, field string, e entry) {
	m, ok := o.fields[contract]
	if !ok {
		m = make(map[string]entry)
		o.fields[contract] = m
	}
	m[field] = e
	o.touch(contract)
}

// Balance returns the staged balance of addr.
func (o *Overlay) Balance(addr core.Address) (*uint256.Int, error) {
	for cur := o; cur != nil; cur = cur.parent {
		if b, ok := cur.balances[addr]; ok {
			return new(uint256.Int).Set(b), nil
		}
	}
	b, err := o.base.Balance(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(core.AmountOrZero(b)), nil
}

// SetBalance stages an absolute balance.
func (o *Overlay) SetBalance(addr core.Address, amount *uint256.Int) {
	o.balances[addr] = new(uint256.Int).Set(amount)
	o.touch(addr)
}

// Credit adds amount to addr. It fails on 256-bit overflow.
func (o *Overlay) Credit(addr core.Address, amount *uint256.Int) error {
	b, err := o.Balance(addr)
	if err != nil {
		return err
	}
	if _, overflow := b.AddOverflow(b, amount); overflow {
		return core.ErrValueOverflow
	}
	o.SetBalance(addr, b)
	return nil
}

// Debit subtracts amount from addr, failing with ErrInsufficientBalance.
func (o *Overlay) Debit(addr core.Address, amount *uint256.Int) error {
	b, err := o.Balance(addr)
	if err != nil {
		return err
	}
	if b.Lt(amount) {
		return core.ErrInsufficientBalance
	}
	o.SetBalance(addr, b.Sub(b, amount))
	return nil
}

// AddEvent appends to the pending event log.
func (o *Overlay) AddEvent(ev types.Event) {
	o.events = append(o.events, ev)
	o.touch(ev.Contract)
}

// Events returns the pending events of this overlay in emission order.
func (o *Overlay) Events() []types.Event {
	return append([]types.Event(nil), o.events...)
}

// Merge folds the overlay into its parent. It is a no-op on a root overlay.
func (o *Overlay) Merge() {
	p := o.parent
	if p == nil {
		return
	}
	for _, addr := range o.order {
		for field, e := range o.fields[addr] {
			p.put(addr, field, e)
		}
		if b, ok := o.balances[addr]; ok {
			p.SetBalance(addr, b)
		}
		p.touch(addr)
	}
	p.events = append(p.events, o.events...)
}

// Writes returns the staged field writes grouped by contract. Deleted
// fields map to nil.
func (o *Overlay) Writes() map[core.Address]types.WriteSet {
	out := make(map[core.Address]types.WriteSet, len(o.fields))
	for addr, fields := range o.fields {
		ws := make(types.WriteSet, len(fields))
		for f, e := range fields {
			if e.deleted {
				ws[f] = nil
			} else {
				ws[f] = e.value
			}
		}
		out[addr] = ws
	}
	return out
}

// Balances returns the staged balances.
func (o *Overlay) Balances() map[core.Address]*uint256.Int {
	out := make(map[core.Address]*uint256.Int, len(o.balances))
	for addr, b := range o.balances {
		out[addr] = new(uint256.Int).Set(b)
	}
	return out
}

// Touched returns every address with staged changes, sorted.
func (o *Overlay) Touched() []core.Address {
	out := append([]core.Address(nil), o.order...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}
