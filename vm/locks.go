package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/govm-net/cvm/core"
)

// lockTable serializes invocations per contract address. A lock is owned
// by a root invocation and is re-entrant for every nested call of that
// root. A wait that would close a cycle of owners fails with ErrDeadlock.
type lockTable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	owners  map[core.Address]*addressLock
	waiting map[uint64]core.Address // root -> address it is blocked on
}

type addressLock struct {
	owner uint64
	depth int
}

func newLockTable() *lockTable {
	t := &lockTable{
		owners:  make(map[core.Address]*addressLock),
		waiting: make(map[uint64]core.Address),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *lockTable) acquire(ctx context.Context, root uint64, addr core.Address) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		l, held := t.owners[addr]
		if !held {
			t.owners[addr] = &addressLock{owner: root, depth: 1}
			return nil
		}
		if l.owner == root {
			l.depth++
			return nil
		}
		if t.closesCycle(root, l.owner) {
			return fmt.Errorf("%w: %s", core.ErrDeadlock, addr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.waiting[root] = addr
		t.cond.Wait()
		delete(t.waiting, root)
	}
}

// closesCycle follows the chain of owners starting at owner and reports
// whether it leads back to root.
func (t *lockTable) closesCycle(root, owner uint64) bool {
	seen := make(map[uint64]bool)
	for cur := owner; !seen[cur]; {
		seen[cur] = true
		addr, blocked := t.waiting[cur]
		if !blocked {
			return false
		}
		l, held := t.owners[addr]
		if !held {
			return false
		}
		if l.owner == root {
			return true
		}
		cur = l.owner
	}
	return false
}

func (t *lockTable) release(root uint64, addr core.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, held := t.owners[addr]
	if !held || l.owner != root {
		return
	}
	l.depth--
	if l.depth == 0 {
		delete(t.owners, addr)
		t.cond.Broadcast()
	}
}
