package event

import (
	"testing"
	"time"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token = core.Address{0x70}
	other = core.Address{0x71}
)

func recv(t *testing.T, s *Subscription) types.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return types.Event{}
}

func assertQuiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAssignResumesSequence(t *testing.T) {
	e := NewEmitter(41, nil)
	out := e.Assign([]types.Event{{Name: "A"}, {Name: "B"}})
	assert.Equal(t, uint64(42), out[0].Sequence)
	assert.Equal(t, uint64(43), out[1].Sequence)
	assert.Equal(t, uint64(43), e.LastSequence())
}

func TestSubscribeDeliversOnlyFutureEvents(t *testing.T) {
	e := NewEmitter(0, nil)
	defer e.Close()

	e.Publish(e.Assign([]types.Event{{Contract: token, Name: "Transfer", Payload: map[string]any{}}}))

	s, err := e.Subscribe(token, "Transfer", nil)
	require.NoError(t, err)
	defer s.Unsubscribe()
	assert.NotEmpty(t, s.ID)

	e.Publish(e.Assign([]types.Event{
		{Contract: token, Name: "Transfer", Payload: map[string]any{"n": int64(1)}},
		{Contract: token, Name: "Approval", Payload: map[string]any{}},
		{Contract: other, Name: "Transfer", Payload: map[string]any{}},
		{Contract: token, Name: "Transfer", Payload: map[string]any{"n": int64(2)}},
	}))

	first := recv(t, s)
	second := recv(t, s)
	assert.Equal(t, int64(1), first.Payload["n"])
	assert.Equal(t, int64(2), second.Payload["n"])
	assert.Less(t, first.Sequence, second.Sequence)
	assertQuiet(t, s)
}

func TestSubscribeFilterAndWildcard(t *testing.T) {
	e := NewEmitter(0, nil)
	defer e.Close()

	filtered, err := e.Subscribe(token, "Transfer", Filter{"to": "bob"})
	require.NoError(t, err)
	all, err := e.Subscribe(token, "", nil)
	require.NoError(t, err)

	e.Publish(e.Assign([]types.Event{
		{Contract: token, Name: "Transfer", Payload: map[string]any{"to": "alice"}},
		{Contract: token, Name: "Transfer", Payload: map[string]any{"to": "bob"}},
		{Contract: token, Name: "Approval", Payload: map[string]any{"to": "bob"}},
	}))

	assert.Equal(t, "bob", recv(t, filtered).Payload["to"])
	assertQuiet(t, filtered)

	names := []string{recv(t, all).Name, recv(t, all).Name, recv(t, all).Name}
	assert.Equal(t, []string{"Transfer", "Transfer", "Approval"}, names)
}

func TestFilterNormalizesNumbers(t *testing.T) {
	ev := types.Event{Payload: map[string]any{"amount": int64(5)}}
	assert.True(t, Filter{"amount": 5}.Match(ev))
	assert.True(t, Filter{"amount": 5.0}.Match(ev))
	assert.False(t, Filter{"amount": 6}.Match(ev))
	assert.False(t, Filter{"missing": 1}.Match(ev))
}

func TestUnsubscribeClosesStream(t *testing.T) {
	e := NewEmitter(0, nil)
	defer e.Close()

	s, err := e.Subscribe(token, "", nil)
	require.NoError(t, err)
	s.Unsubscribe()
	s.Unsubscribe()

	select {
	case _, ok := <-s.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}

	// publishing after unsubscribe must not block
	e.Publish(e.Assign([]types.Event{{Contract: token, Name: "X"}}))
}

func TestSlowReaderDoesNotStallPublisher(t *testing.T) {
	e := NewEmitter(0, nil)
	defer e.Close()

	s, err := e.Subscribe(token, "", nil)
	require.NoError(t, err)
	defer s.Unsubscribe()

	const n = 2 * subscriptionBuffer
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			e.Publish(e.Assign([]types.Event{{Contract: token, Name: "Tick"}}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked by idle subscriber")
	}

	var last uint64
	for i := 0; i < n; i++ {
		ev := recv(t, s)
		assert.Greater(t, ev.Sequence, last)
		last = ev.Sequence
	}
}

func TestClosedEmitter(t *testing.T) {
	e := NewEmitter(0, nil)
	s, err := e.Subscribe(token, "", nil)
	require.NoError(t, err)
	e.Close()

	select {
	case _, ok := <-s.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
	_, err = e.Subscribe(token, "", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
