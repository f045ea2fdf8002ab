package xcache

import (
	"context"
	"time"
)

// defaultOperationTimeout 脱离调用方取消链后的默认操作超时。
// 防止后端挂起时 goroutine 永久阻塞。
const defaultOperationTimeout = 30 * time.Second

// contextWithIndependentTimeout 保留 ctx 的 Value，去掉其取消信号，并加上独立超时。
//
// timeout 行为：
//   - timeout == 0: 禁用超时（仍脱离原始取消链）
//   - timeout < 0: 使用 defaultOperationTimeout
//   - timeout > 0: 使用指定超时
func contextWithIndependentTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)
	if timeout == 0 {
		return context.WithCancel(detached)
	}
	if timeout < 0 {
		timeout = defaultOperationTimeout
	}
	return context.WithTimeout(detached, timeout)
}
