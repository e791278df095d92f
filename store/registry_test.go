package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, MemoryBackendType, r.DefaultBackendType())

	_, err := r.Open("missing", nil)
	assert.Error(t, err)

	require.NoError(t, r.Register("broken", func(map[string]any) (Backend, error) {
		return nil, errors.New("boom")
	}))
	assert.Error(t, r.Register("broken", nil), "duplicate registration")

	_, err = r.Open("broken", nil)
	assert.ErrorContains(t, err, "boom")

	assert.Error(t, r.SetDefault("missing"))
	require.NoError(t, r.SetDefault("broken"))
	assert.Equal(t, BackendType("broken"), r.DefaultBackendType())
	assert.Equal(t, []BackendType{"broken"}, r.ListRegistered())
}
