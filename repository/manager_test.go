package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/govm-net/cvm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCode(addr core.Address) *ContractCode {
	return &ContractCode{
		Address:  addr,
		Deployer: core.Address{0xde},
		Manifest: []byte(`{"runtime":"js"}`),
		Code:     []byte(`function ping() { return "pong"; }`),
		Height:   3,
	}
}

func TestManager(t *testing.T) {
	tmpDir := t.TempDir()

	manager, err := NewManager(tmpDir)
	require.NoError(t, err)

	// 测试合约地址
	addr := core.AddressFromString("1234567890abcdef1234567890abcdef12345678")
	require.NoError(t, manager.RegisterCode(newCode(addr)))

	// 验证文件是否创建
	contractDir := filepath.Join(tmpDir, addr.String())
	assert.DirExists(t, contractDir)
	assert.FileExists(t, filepath.Join(contractDir, codeFile))
	assert.FileExists(t, filepath.Join(contractDir, manifestFile))
	assert.FileExists(t, filepath.Join(contractDir, metadataFile))

	// 获取代码并验证内容
	got, err := manager.GetCode(addr)
	require.NoError(t, err)
	assert.Equal(t, newCode(addr).Code, got.Code)
	assert.Equal(t, newCode(addr).Manifest, got.Manifest)
	assert.Equal(t, core.Address{0xde}, got.Deployer)
	assert.Equal(t, uint64(3), got.Height)
	assert.Equal(t, core.CodeHash(got.Code), got.Hash)

	// 重复注册
	assert.ErrorIs(t, manager.RegisterCode(newCode(addr)), ErrContractExists)

	// 重新打开后仍可读取
	reopened, err := NewManager(tmpDir)
	require.NoError(t, err)
	list, err := reopened.List()
	require.NoError(t, err)
	assert.Equal(t, []core.Address{addr}, list)

	require.NoError(t, reopened.RemoveCode(addr))
	_, err = reopened.GetCode(addr)
	assert.ErrorIs(t, err, core.ErrContractNotFound)
}

func TestManagerDetectsTampering(t *testing.T) {
	tmpDir := t.TempDir()
	manager, err := NewManager(tmpDir)
	require.NoError(t, err)

	addr := core.Address{1}
	require.NoError(t, manager.RegisterCode(newCode(addr)))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, addr.String(), codeFile), []byte("changed"), 0644))

	_, err = manager.GetCode(addr)
	assert.ErrorContains(t, err, "hash mismatch")
}

func TestMemoryManager(t *testing.T) {
	manager, err := NewManager("")
	require.NoError(t, err)

	_, err = manager.GetCode(core.Address{9})
	assert.ErrorIs(t, err, core.ErrContractNotFound)
	assert.Error(t, manager.RegisterCode(&ContractCode{Address: core.Address{9}}))

	code := newCode(core.Address{9})
	require.NoError(t, manager.RegisterCode(code))
	code.Code[0] = 'X'

	got, err := manager.GetCode(core.Address{9})
	require.NoError(t, err)
	assert.Equal(t, byte('f'), got.Code[0])
	assert.ErrorIs(t, manager.RegisterCode(newCode(core.Address{9})), ErrContractExists)

	list, err := manager.List()
	require.NoError(t, err)
	assert.Equal(t, []core.Address{{9}}, list)
}
