package vm

import (
	"math/big"
	"testing"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builderParams(class core.Class, env *types.Envelope) ContextParams {
	return ContextParams{
		Envelope: env,
		Header:   &core.Block{Height: 9, Timestamp: 1700000000000},
		Caller:   core.Address{0xca},
		Contract: &abi.Descriptor{Address: core.Address{0xc0}, Deployer: core.Address{0xd0}},
		Method:   &abi.Method{Name: "m", Class: class},
	}
}

func verified(value int64) *types.Envelope {
	return &types.Envelope{
		Sender:   core.Address{0x5e},
		Value:    big.NewInt(value),
		Verified: true,
		Signers:  []core.Address{{0x5e}, {0x51}},
	}
}

func TestBuildContextPure(t *testing.T) {
	ictx, err := BuildContext(builderParams(core.ClassPure, nil))
	require.NoError(t, err)
	assert.Nil(t, ictx.Message)
	assert.Nil(t, ictx.Block)
	assert.Equal(t, core.Address{0xc0}, ictx.Contract)
}

func TestBuildContextView(t *testing.T) {
	ictx, err := BuildContext(builderParams(core.ClassView, nil))
	require.NoError(t, err)
	require.NotNil(t, ictx.Message)
	assert.False(t, ictx.Message.Trusted)
	assert.Equal(t, core.Address{0xca}, ictx.Message.Sender)
	assert.True(t, ictx.Message.Value.IsZero())
	assert.Equal(t, uint64(9), ictx.Block.Height)

	_, err = BuildContext(builderParams(core.ClassView, verified(3)))
	assert.ErrorIs(t, err, core.ErrNotPayable)
}

func TestBuildContextTransaction(t *testing.T) {
	_, err := BuildContext(builderParams(core.ClassTransaction, nil))
	assert.ErrorIs(t, err, core.ErrUnauthorizedContext)

	unverified := verified(0)
	unverified.Verified = false
	_, err = BuildContext(builderParams(core.ClassTransaction, unverified))
	assert.ErrorIs(t, err, core.ErrUnauthorizedContext)

	ictx, err := BuildContext(builderParams(core.ClassTransaction, verified(0)))
	require.NoError(t, err)
	assert.True(t, ictx.Message.Trusted)
	assert.Equal(t, core.Address{0x5e}, ictx.Message.Sender)
	assert.Len(t, ictx.Message.Signers, 2)

	_, err = BuildContext(builderParams(core.ClassTransaction, verified(1)))
	assert.ErrorIs(t, err, core.ErrNotPayable)
}

func TestBuildContextPayable(t *testing.T) {
	ictx, err := BuildContext(builderParams(core.ClassPayable, verified(0)))
	require.NoError(t, err)
	assert.True(t, ictx.Message.Value.IsZero())

	ictx, err = BuildContext(builderParams(core.ClassPayable, verified(25)))
	require.NoError(t, err)
	assert.Equal(t, uint64(25), ictx.Message.Value.Uint64())

	_, err = BuildContext(builderParams(core.ClassPayable, verified(-1)))
	assert.ErrorIs(t, err, core.ErrNegativeValue)

	huge := verified(0)
	huge.Value = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = BuildContext(builderParams(core.ClassPayable, huge))
	assert.ErrorIs(t, err, core.ErrValueOverflow)
}

func TestBuildContextNested(t *testing.T) {
	p := builderParams(core.ClassTransaction, nil)
	p.Nested = true
	ictx, err := BuildContext(p)
	require.NoError(t, err)
	assert.True(t, ictx.Message.Trusted)
	assert.Equal(t, core.Address{0xca}, ictx.Message.Sender)
	assert.True(t, ictx.Message.Value.IsZero())
}
