package lifecycle

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureVerifier(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cosigner, err := crypto.GenerateKey()
	require.NoError(t, err)

	env := &types.Envelope{Contract: core.Address{0xc}, Method: "set", Args: []any{1}, Nonce: 1}
	require.NoError(t, Sign(env, key))
	assert.Equal(t, AddressOf(key), env.Sender)

	signers, err := SignatureVerifier{}.Verify(env)
	require.NoError(t, err)
	assert.Equal(t, []core.Address{AddressOf(key)}, signers)

	require.NoError(t, Cosign(env, cosigner))
	require.NoError(t, Cosign(env, cosigner))
	signers, err = SignatureVerifier{}.Verify(env)
	require.NoError(t, err)
	assert.Equal(t, []core.Address{AddressOf(key), AddressOf(cosigner)}, signers)
}

func TestSignatureVerifierRejects(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sign := func() *types.Envelope {
		env := &types.Envelope{Contract: core.Address{0xc}, Method: "set", Args: []any{1}, Nonce: 1}
		require.NoError(t, Sign(env, key))
		return env
	}

	tampered := sign()
	tampered.Args = []any{2}

	impostor := sign()
	impostor.Sender = core.Address{0x1}

	truncated := sign()
	truncated.Signature = truncated.Signature[:10]

	badCosig := sign()
	badCosig.Cosignatures = [][]byte{{1, 2, 3}}

	for name, env := range map[string]*types.Envelope{
		"tampered":        tampered,
		"impostor":        impostor,
		"truncated":       truncated,
		"bad cosignature": badCosig,
		"unsigned":        {Contract: core.Address{0xc}, Method: "set"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := SignatureVerifier{}.Verify(env)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}
