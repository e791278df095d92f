package security

import (
	"fmt"
	"sync"

	"github.com/govm-net/cvm/core"
)

// CallTracer 用于追踪合约调用链
type CallTracer struct {
	mu        sync.Mutex
	maxDepth  int
	callStack []CallFrame
}

// CallFrame 表示一个调用栈帧
type CallFrame struct {
	Caller   core.Address
	Contract core.Address
	Method   string
	Class    core.Class
}

// NewCallTracer 创建调用追踪器
func NewCallTracer(maxDepth int) *CallTracer {
	return &CallTracer{
		maxDepth:  maxDepth,
		callStack: make([]CallFrame, 0, maxDepth),
	}
}

// BeginCall 记录调用开始，超过最大深度时返回 ErrQuotaExceeded
func (t *CallTracer) BeginCall(frame CallFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxDepth > 0 && len(t.callStack) >= t.maxDepth {
		return fmt.Errorf("%w: call depth %d exceeds %d", core.ErrQuotaExceeded, len(t.callStack)+1, t.maxDepth)
	}
	t.callStack = append(t.callStack, frame)
	return nil
}

// EndCall 记录调用结束
func (t *CallTracer) EndCall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.callStack) > 0 {
		t.callStack = t.callStack[:len(t.callStack)-1]
	}
}

// Depth 当前调用深度
func (t *CallTracer) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.callStack)
}

// Frames returns a copy of the stack, outermost first.
func (t *CallTracer) Frames() []CallFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CallFrame(nil), t.callStack...)
}

// Current returns the innermost frame.
func (t *CallTracer) Current() (CallFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.callStack) == 0 {
		return CallFrame{}, false
	}
	return t.callStack[len(t.callStack)-1], true
}
