package api

import (
	"testing"

	"github.com/govm-net/cvm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultContractConfig(t *testing.T) {
	cfg := DefaultContractConfig()
	q := cfg.Quota()
	require.NoError(t, q.Validate())
	assert.Equal(t, cfg.MaxGas, q.MaxGas)
	assert.Equal(t, int(cfg.MaxCallDepth), q.MaxCallDepth)
	assert.Equal(t, uint64(1024*1024), cfg.MaxCodeSize)
}

func TestDefaultContractAddressGenerator(t *testing.T) {
	deployer := core.Address{1}
	code := core.CodeHash([]byte("code"))

	a := DefaultContractAddressGenerator(deployer, code, 0)
	assert.Equal(t, a, DefaultContractAddressGenerator(deployer, code, 0))
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, DefaultContractAddressGenerator(deployer, code, 1))
	assert.NotEqual(t, a, DefaultContractAddressGenerator(core.Address{2}, code, 0))
	assert.NotEqual(t, a, DefaultContractAddressGenerator(deployer, core.CodeHash([]byte("other")), 0))
}
