package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
)

// Level is a completion signal a submitter can wait for.
type Level int

const (
	// LevelBroadcast resolves once the envelope passed local validation.
	LevelBroadcast Level = iota
	// LevelPool resolves once the envelope was admitted to the pool.
	LevelPool
	// LevelBlock resolves once the transaction was included in a block,
	// whether it succeeded or rolled back.
	LevelBlock
)

func (l Level) String() string {
	switch l {
	case LevelBroadcast:
		return "broadcast"
	case LevelPool:
		return "pool"
	case LevelBlock:
		return "block"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Ticket tracks one submitted envelope through its lifecycle.
type Ticket struct {
	Hash     core.Hash
	Envelope *types.Envelope

	mu       sync.Mutex
	status   types.TxStatus
	reason   string
	receipt  *types.Receipt
	pooled   bool
	reached  [LevelBlock + 1]chan struct{}
	rejected chan struct{}
}

func newTicket(hash core.Hash, env *types.Envelope) *Ticket {
	t := &Ticket{
		Hash:     hash,
		Envelope: env,
		status:   types.TxSubmitted,
		rejected: make(chan struct{}),
	}
	for i := range t.reached {
		t.reached[i] = make(chan struct{})
	}
	close(t.reached[LevelBroadcast])
	return t
}

// Status returns the current lifecycle state.
func (t *Ticket) Status() types.TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Reason is the rejection reason, or the failure reason of a rolled back
// transaction.
func (t *Ticket) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Receipt is set once the transaction was included.
func (t *Ticket) Receipt() *types.Receipt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receipt
}

// Done returns a channel closed when level is reached. It never closes
// for a rejected transaction past LevelBroadcast.
func (t *Ticket) Done(level Level) <-chan struct{} {
	return t.reached[level]
}

// Wait blocks until level is reached, the transaction is rejected or ctx
// is done.
func (t *Ticket) Wait(ctx context.Context, level Level) (types.TxStatus, error) {
	if level < LevelBroadcast || level > LevelBlock {
		return t.Status(), fmt.Errorf("%w: unknown level %d", core.ErrInvalidArgument, level)
	}
	select {
	case <-t.reached[level]:
		return t.Status(), nil
	default:
	}
	select {
	case <-t.reached[level]:
		return t.Status(), nil
	case <-t.rejected:
		return types.TxRejected, fmt.Errorf("%w: %s", ErrRejected, t.Reason())
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}

// accept marks the ticket pooled. The ticket is already in the pool when
// this runs, so a block may have included it first; the status then stays
// final.
func (t *Ticket) accept() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == types.TxSubmitted {
		t.status = types.TxPoolAccepted
	}
	t.reachPool()
}

func (t *Ticket) reachPool() {
	if !t.pooled {
		t.pooled = true
		close(t.reached[LevelPool])
	}
}

func (t *Ticket) reject(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = types.TxRejected
	t.reason = reason
	close(t.rejected)
}

func (t *Ticket) include(r *types.Receipt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = r.Status
	t.reason = r.Reason
	t.receipt = r
	t.reachPool()
	close(t.reached[LevelBlock])
}
