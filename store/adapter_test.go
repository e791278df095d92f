package store_test

import (
	"testing"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/store/memory"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractA = core.Address{0xa}
	contractB = core.Address{0xb}
)

func TestAdapterStageCommit(t *testing.T) {
	a := store.NewAdapter(memory.New())

	require.NoError(t, a.StageWrite(contractA, "value", 5))
	require.NoError(t, a.StageWrite(contractA, "meta", map[string]any{"k": []any{1, "x"}}))
	a.StageBalance(contractA, contractB, uint256.NewInt(9))
	a.StageEvents(contractA, types.Event{Sequence: 1, Contract: contractA, Name: "E", Payload: map[string]any{}})

	// staged writes are invisible until commit
	_, ok, err := a.Get(contractA, "value")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, a.Staged(contractA))

	require.NoError(t, a.Commit(7, contractA))
	assert.False(t, a.Staged(contractA))

	v, ok, err := a.Get(contractA, "value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	meta, _, err := a.Get(contractA, "meta")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": []any{int64(1), "x"}}, meta)

	bal, err := a.Balance(contractB)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), bal.Uint64())

	rec, _, err := a.Backend().GetField(contractA, "value")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.Height)

	events, err := a.Backend().Events(contractA)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAdapterDiscard(t *testing.T) {
	a := store.NewAdapter(memory.New())
	require.NoError(t, a.StageWrite(contractA, "value", 1))
	require.NoError(t, a.Commit(1, contractA))

	require.NoError(t, a.StageWrite(contractA, "value", 2))
	a.StageDelete(contractA, "other")
	a.Discard(contractA)
	require.NoError(t, a.Commit(2, contractA))

	v, _, err := a.Get(contractA, "value")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestAdapterCommitScopesByAddress(t *testing.T) {
	a := store.NewAdapter(memory.New())
	require.NoError(t, a.StageWrite(contractA, "value", 1))
	require.NoError(t, a.StageWrite(contractB, "value", 2))
	require.NoError(t, a.Commit(1, contractA))

	_, ok, err := a.Get(contractB, "value")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, a.Staged(contractB))
}

func TestAdapterRejectsCyclicValue(t *testing.T) {
	a := store.NewAdapter(memory.New())
	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	err := a.StageWrite(contractA, "bad", cyclic)
	assert.ErrorIs(t, err, core.ErrCyclicValue)
	assert.False(t, a.Staged(contractA))
}

func TestAdapterDeleteViaNil(t *testing.T) {
	a := store.NewAdapter(memory.New())
	require.NoError(t, a.StageWrite(contractA, "value", 1))
	require.NoError(t, a.Commit(1, contractA))
	require.NoError(t, a.StageWrite(contractA, "value", nil))
	require.NoError(t, a.Commit(2, contractA))

	_, ok, err := a.Get(contractA, "value")
	require.NoError(t, err)
	assert.False(t, ok)
}
