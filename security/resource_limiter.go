// Package security 提供合约执行的资源配额与调用追踪
package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/govm-net/cvm/core"
)

// Gas schedule for host capability calls.
const (
	GasInvocation = 100
	GasFieldRead  = 50
	GasFieldWrite = 200
	GasPerByte    = 1
	GasBalance    = 20
	GasTransfer   = 300
	GasEmit       = 100
	GasCall       = 200
)

// Quota 单次顶层调用(含嵌套调用)的资源上限
type Quota struct {
	MaxGas       uint64        `json:"max_gas"`
	MaxDuration  time.Duration `json:"max_duration"`
	MaxCallDepth int           `json:"max_call_depth"`
}

// DefaultQuota 默认配额
func DefaultQuota() Quota {
	return Quota{
		MaxGas:       1000000,
		MaxDuration:  2 * time.Second,
		MaxCallDepth: 8,
	}
}

// Validate 检查配额配置
func (q Quota) Validate() error {
	if q.MaxGas == 0 {
		return errors.New("max gas must be positive")
	}
	if q.MaxDuration <= 0 {
		return errors.New("max duration must be positive")
	}
	if q.MaxCallDepth <= 0 {
		return errors.New("max call depth must be positive")
	}
	return nil
}

// ResourceLimiter 用于限制合约执行的资源使用
type ResourceLimiter struct {
	quota Quota
}

// NewResourceLimiter 创建资源限制器
func NewResourceLimiter(quota Quota) *ResourceLimiter {
	return &ResourceLimiter{quota: quota}
}

// Quota returns the configured limits.
func (r *ResourceLimiter) Quota() Quota {
	return r.quota
}

// StartMonitoring 开始监控一次顶层调用，返回的 context 在时间配额耗尽时取消
func (r *ResourceLimiter) StartMonitoring(parent context.Context) (*ResourceMonitor, context.Context) {
	ctx, cancel := context.WithTimeout(parent, r.quota.MaxDuration)
	return &ResourceMonitor{
		limit:  r.quota.MaxGas,
		ctx:    ctx,
		cancel: cancel,
		tracer: NewCallTracer(r.quota.MaxCallDepth),
	}, ctx
}

// ResourceMonitor 监控资源使用情况
type ResourceMonitor struct {
	mu        sync.Mutex
	limit     uint64
	used      uint64
	exhausted bool

	ctx    context.Context
	cancel context.CancelFunc
	tracer *CallTracer
}

// ConsumeGas 消耗gas，不足时标记耗尽并返回 ErrQuotaExceeded
func (m *ResourceMonitor) ConsumeGas(amount uint64) error {
	if err := m.ctx.Err(); err != nil {
		return m.deadlineErr(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exhausted {
		return fmt.Errorf("%w: out of gas", core.ErrQuotaExceeded)
	}
	if m.limit-m.used < amount {
		m.exhausted = true
		return fmt.Errorf("%w: out of gas: gas=%d, need=%d", core.ErrQuotaExceeded, m.limit-m.used, amount)
	}
	m.used += amount
	return nil
}

// GasUsed 获取已使用的gas
func (m *ResourceMonitor) GasUsed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Exceeded reports whether any quota ran out, whether or not the hosted
// code observed it.
func (m *ResourceMonitor) Exceeded() bool {
	m.mu.Lock()
	exhausted := m.exhausted
	m.mu.Unlock()
	return exhausted || errors.Is(m.ctx.Err(), context.DeadlineExceeded)
}

// Err returns the quota error, nil while within limits.
func (m *ResourceMonitor) Err() error {
	m.mu.Lock()
	exhausted := m.exhausted
	m.mu.Unlock()
	if exhausted {
		return fmt.Errorf("%w: out of gas", core.ErrQuotaExceeded)
	}
	if err := m.ctx.Err(); err != nil {
		return m.deadlineErr(err)
	}
	return nil
}

func (m *ResourceMonitor) deadlineErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: execution time limit", core.ErrQuotaExceeded)
	}
	return err
}

// Tracer returns the call stack tracer of this invocation tree.
func (m *ResourceMonitor) Tracer() *CallTracer {
	return m.tracer
}

// Stop 停止监控并释放计时器
func (m *ResourceMonitor) Stop() {
	m.cancel()
}
