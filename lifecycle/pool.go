package lifecycle

import (
	"sync"

	"github.com/govm-net/cvm/core"
)

// txPool keeps admitted tickets in admission order. Tickets fetched for a
// block stay pending until they are removed, so a hash is never admitted
// twice while in flight.
type txPool struct {
	mu      sync.Mutex
	max     int
	queue   []*Ticket
	index   map[core.Hash]*Ticket
	pending map[core.Hash]*Ticket
}

func newTxPool(max int) *txPool {
	return &txPool{
		max:     max,
		index:   make(map[core.Hash]*Ticket),
		pending: make(map[core.Hash]*Ticket),
	}
}

// put adds t unless the pool is full or already knows the hash.
func (p *txPool) put(t *Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index[t.Hash] != nil || p.pending[t.Hash] != nil {
		return ErrTxExists
	}
	if p.max > 0 && len(p.queue) >= p.max {
		return ErrPoolFull
	}
	p.queue = append(p.queue, t)
	p.index[t.Hash] = t
	return nil
}

func (p *txPool) has(hash core.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index[hash] != nil || p.pending[hash] != nil
}

// fetch moves up to n tickets, oldest first, to pending.
func (p *txPool) fetch(n int) []*Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.queue) {
		n = len(p.queue)
	}
	out := make([]*Ticket, n)
	copy(out, p.queue[:n])
	p.queue = append(p.queue[:0:0], p.queue[n:]...)
	for _, t := range out {
		delete(p.index, t.Hash)
		p.pending[t.Hash] = t
	}
	return out
}

// requeue puts pending tickets back at the front, keeping their order.
func (p *txPool) requeue(tickets []*Ticket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	back := make([]*Ticket, 0, len(tickets)+len(p.queue))
	for _, t := range tickets {
		if p.pending[t.Hash] == nil {
			continue
		}
		delete(p.pending, t.Hash)
		p.index[t.Hash] = t
		back = append(back, t)
	}
	p.queue = append(back, p.queue...)
}

func (p *txPool) remove(hash core.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, hash)
}

func (p *txPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
