// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"testing"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a backend created fresh by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Backend) {
	t.Run("fields", func(t *testing.T) { testFields(t, open(t)) })
	t.Run("balances", func(t *testing.T) { testBalances(t, open(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, open(t)) })
	t.Run("receipts", func(t *testing.T) { testReceipts(t, open(t)) })
}

var (
	contractA = core.Address{0xa}
	contractB = core.Address{0xb}
)

func testFields(t *testing.T, b store.Backend) {
	_, ok, err := b.GetField(contractA, "value")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Apply(&store.Batch{Height: 3, Fields: []store.FieldWrite{
		{Contract: contractA, Field: "value", Value: []byte(`5`)},
		{Contract: contractA, Field: "name", Value: []byte(`"x"`)},
		{Contract: contractB, Field: "value", Value: []byte(`7`)},
	}}))

	rec, ok, err := b.GetField(contractA, "value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`5`), rec.Value)
	assert.Equal(t, uint64(3), rec.Height)

	require.NoError(t, b.Apply(&store.Batch{Height: 4, Fields: []store.FieldWrite{
		{Contract: contractA, Field: "value", Value: []byte(`6`)},
		{Contract: contractA, Field: "name"},
	}}))

	fields, err := b.Fields(contractA)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, store.Record{Value: []byte(`6`), Height: 4}, fields["value"])

	rec, ok, err = b.GetField(contractB, "value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), rec.Height)
}

func testBalances(t *testing.T, b store.Backend) {
	bal, err := b.Balance(contractA)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	big := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	require.NoError(t, b.Apply(&store.Batch{Height: 1, Balances: []store.BalanceWrite{
		{Address: contractA, Amount: uint256.NewInt(100)},
		{Address: contractB, Amount: big},
	}}))

	bal, err = b.Balance(contractA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Uint64())

	bal, err = b.Balance(contractB)
	require.NoError(t, err)
	assert.True(t, bal.Eq(big))

	require.NoError(t, b.Apply(&store.Batch{Height: 2, Balances: []store.BalanceWrite{
		{Address: contractA, Amount: uint256.NewInt(40)},
	}}))
	bal, err = b.Balance(contractA)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal.Uint64())
}

func testEvents(t *testing.T, b store.Backend) {
	seq, err := b.LastSequence()
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, b.Apply(&store.Batch{Height: 5, Events: []types.Event{
		{Sequence: 1, Contract: contractA, Name: "ValueSet", Payload: map[string]any{"newValue": int64(5)}, Height: 5},
		{Sequence: 2, Contract: contractB, Name: "Other", Payload: map[string]any{}, Height: 5},
		{Sequence: 3, Contract: contractA, Name: "ValueSet", Payload: map[string]any{"newValue": int64(6)}, Height: 5},
	}}))

	events, err := b.Events(contractA)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.Equal(t, uint64(3), events[1].Sequence)
	assert.Equal(t, "ValueSet", events[1].Name)
	assert.EqualValues(t, 6, events[1].Payload["newValue"])

	seq, err = b.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func testReceipts(t *testing.T, b store.Backend) {
	hash := core.Hash{0x42}
	_, ok, err := b.Receipt(hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.PutReceipt(&types.Receipt{
		TxHash: hash,
		Height: 9,
		Index:  1,
		Status: types.TxRolledBack,
		Reason: "negative",
		Result: &types.InvocationResult{Outcome: types.OutcomeRolledBack, Failure: types.FailureRevert},
	}))

	r, ok, err := b.Receipt(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), r.Height)
	assert.Equal(t, types.TxRolledBack, r.Status)
	assert.Equal(t, "negative", r.Reason)
	require.NotNil(t, r.Result)
	assert.Equal(t, types.FailureRevert, r.Result.Failure)
}
