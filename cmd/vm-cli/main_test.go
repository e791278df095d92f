package main

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/govm-net/cvm/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs(`[1, "x", {"k": true}]`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "x", map[string]any{"k": true}}, args)

	args, err = parseArgs("")
	require.NoError(t, err)
	assert.Nil(t, args)

	_, err = parseArgs(`{"k": 1}`)
	assert.Error(t, err)
	_, err = parseArgs(`[1,`)
	assert.Error(t, err)
}

func TestParseBig(t *testing.T) {
	v, err := parseBig("value", "1000000000000000000000")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	assert.Equal(t, want, v)

	v, err = parseBig("fee", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseBig("fee", "ten")
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	statePath = filepath.Join(dir, "state")
	repoDir = filepath.Join(dir, "code")
	storeType = string(store.LevelDBBackendType)
	configFile = ""

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, store.LevelDBBackendType, cfg.VM.StoreType)
	assert.Equal(t, map[string]any{"path": statePath}, cfg.VM.StoreParams)
	assert.Equal(t, repoDir, cfg.VM.CodeManagerDir)
	assert.NotNil(t, cfg.VM.Logger)
	assert.NotNil(t, cfg.Lifecycle)
}
