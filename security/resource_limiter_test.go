package security

import (
	"context"
	"testing"
	"time"

	"github.com/govm-net/cvm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeGas(t *testing.T) {
	limiter := NewResourceLimiter(Quota{MaxGas: 1000, MaxDuration: time.Second, MaxCallDepth: 2})
	m, _ := limiter.StartMonitoring(context.Background())
	defer m.Stop()

	require.NoError(t, m.ConsumeGas(400))
	require.NoError(t, m.ConsumeGas(600))
	assert.Equal(t, uint64(1000), m.GasUsed())
	assert.False(t, m.Exceeded())
	assert.NoError(t, m.Err())

	err := m.ConsumeGas(1)
	assert.ErrorIs(t, err, core.ErrQuotaExceeded)
	assert.True(t, m.Exceeded())
	assert.ErrorIs(t, m.Err(), core.ErrQuotaExceeded)

	// exhaustion is sticky
	assert.ErrorIs(t, m.ConsumeGas(0), core.ErrQuotaExceeded)
	assert.Equal(t, uint64(1000), m.GasUsed())
}

func TestDeadline(t *testing.T) {
	limiter := NewResourceLimiter(Quota{MaxGas: 1000, MaxDuration: 10 * time.Millisecond, MaxCallDepth: 2})
	m, ctx := limiter.StartMonitoring(context.Background())
	defer m.Stop()

	<-ctx.Done()
	assert.True(t, m.Exceeded())
	assert.ErrorIs(t, m.ConsumeGas(1), core.ErrQuotaExceeded)
}

func TestStopIsNotExhaustion(t *testing.T) {
	m, _ := NewResourceLimiter(DefaultQuota()).StartMonitoring(context.Background())
	m.Stop()
	assert.False(t, m.Exceeded())
}

func TestCallTracer(t *testing.T) {
	tracer := NewCallTracer(2)
	require.NoError(t, tracer.BeginCall(CallFrame{Contract: core.Address{1}, Method: "a"}))
	require.NoError(t, tracer.BeginCall(CallFrame{Contract: core.Address{2}, Method: "b"}))
	assert.ErrorIs(t, tracer.BeginCall(CallFrame{Method: "c"}), core.ErrQuotaExceeded)
	assert.Equal(t, 2, tracer.Depth())

	cur, ok := tracer.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.Method)

	tracer.EndCall()
	tracer.EndCall()
	tracer.EndCall()
	assert.Equal(t, 0, tracer.Depth())
	_, ok = tracer.Current()
	assert.False(t, ok)
}

func TestQuotaValidate(t *testing.T) {
	assert.NoError(t, DefaultQuota().Validate())
	assert.Error(t, Quota{}.Validate())
}
