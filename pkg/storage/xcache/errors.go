package xcache

import "errors"

var (
	// ErrCacheMiss 表示 key 不存在或已过期。Store 实现在未命中时必须返回此错误。
	ErrCacheMiss = errors.New("xcache: cache miss")

	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xcache: nil client")

	// ErrEmptyKey 表示传入的 key 为空字符串。
	ErrEmptyKey = errors.New("xcache: empty key")

	// ErrNilLoader 表示回源函数为 nil。
	ErrNilLoader = errors.New("xcache: nil loader function")

	// ErrLoadPanic 表示回源函数发生了 panic。
	// singleflight DoChan 会在新 goroutine 中重新 panic 导致进程崩溃，这里转为错误返回。
	ErrLoadPanic = errors.New("xcache: load function panicked")

	// ErrInvalidSize 表示 MemoryStore 容量无效。
	ErrInvalidSize = errors.New("xcache: size must be positive")
)
