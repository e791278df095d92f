// Package event assigns sequence numbers to committed contract events and
// fans them out to subscribers.
package event

import (
	"errors"
	"log/slog"
	"reflect"
	"sync"

	gethevent "github.com/ethereum/go-ethereum/event"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/rs/xid"
)

// ErrClosed is returned when subscribing to a closed emitter.
var ErrClosed = errors.New("emitter closed")

const subscriptionBuffer = 256

// Filter selects events whose payload holds every listed field with an
// equal value.
type Filter map[string]any

// Match reports whether ev satisfies the filter.
func (f Filter) Match(ev types.Event) bool {
	for key, want := range f {
		got, ok := ev.Payload[key]
		if !ok {
			return false
		}
		nw, err := core.Normalize(want)
		if err != nil {
			return false
		}
		ng, err := core.Normalize(got)
		if err != nil || !reflect.DeepEqual(nw, ng) {
			return false
		}
	}
	return true
}

// Emitter numbers and publishes committed events.
type Emitter struct {
	mu     sync.Mutex
	seq    uint64
	closed bool

	feed   gethevent.Feed
	scope  gethevent.SubscriptionScope
	logger *slog.Logger
}

// NewEmitter resumes numbering after lastSeq.
func NewEmitter(lastSeq uint64, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{seq: lastSeq, logger: logger}
}

// LastSequence returns the last assigned sequence number.
func (e *Emitter) LastSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Assign returns copies of events numbered in order. Numbers are never
// reused, even if the caller later fails to commit them.
func (e *Emitter) Assign(events []types.Event) []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Event, len(events))
	for i, ev := range events {
		e.seq++
		ev.Sequence = e.seq
		out[i] = ev
	}
	return out
}

// Publish delivers committed events to current subscribers in order.
func (e *Emitter) Publish(events []types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ev := range events {
		e.feed.Send(ev)
		params := []any{
			"seq", ev.Sequence,
			"height", ev.Height,
			"contract", ev.Contract,
			"event", ev.Name,
		}
		e.logger.Debug("Contract event", params...)
	}
}

// Subscribe returns a stream of events emitted by contract after this
// call. An empty name matches every event of the contract. Past events are
// never replayed.
func (e *Emitter) Subscribe(contract core.Address, name string, filter Filter) (*Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	s := &Subscription{
		ID:       xid.New().String(),
		contract: contract,
		name:     name,
		filter:   filter,
		in:       make(chan types.Event, subscriptionBuffer),
		out:      make(chan types.Event),
		quit:     make(chan struct{}),
	}
	s.sub = e.scope.Track(e.feed.Subscribe(s.in))
	go s.pump()
	return s, nil
}

// Close ends every subscription.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.scope.Close()
}

// Subscription is a lazy, unbounded, non-restartable event stream.
type Subscription struct {
	ID string

	contract core.Address
	name     string
	filter   Filter

	sub  gethevent.Subscription
	in   chan types.Event
	out  chan types.Event
	quit chan struct{}
	once sync.Once
}

// Events returns the stream. It is closed after Unsubscribe or when the
// emitter closes.
func (s *Subscription) Events() <-chan types.Event {
	return s.out
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		close(s.quit)
	})
}

func (s *Subscription) matches(ev types.Event) bool {
	if ev.Contract != s.contract {
		return false
	}
	if s.name != "" && ev.Name != s.name {
		return false
	}
	return s.filter.Match(ev)
}

// pump queues matching events so a slow reader never stalls publishers.
func (s *Subscription) pump() {
	defer close(s.out)

	var queue []types.Event
	for {
		var out chan types.Event
		var next types.Event
		if len(queue) > 0 {
			out = s.out
			next = queue[0]
		}

		select {
		case ev := <-s.in:
			if s.matches(ev) {
				queue = append(queue, ev)
			}
		case out <- next:
			queue = queue[1:]
		case <-s.sub.Err():
			// emitter closed: drain what was already accepted
			for _, ev := range queue {
				select {
				case s.out <- ev:
				case <-s.quit:
					return
				}
			}
			return
		case <-s.quit:
			return
		}
	}
}
