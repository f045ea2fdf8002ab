package xcache

import (
	"context"
	"time"
)

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=xcache

// Store 是缓存后端的最小契约。
//
// 实现必须并发安全；单 key 的读写删除由后端保证原子性。
type Store interface {
	// Get 返回 key 对应的值，不存在时返回 ErrCacheMiss。
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithExpiry 写入 key，ttl 后过期。
	SetWithExpiry(ctx context.Context, key string, ttl time.Duration, value []byte) error

	// Keys 返回匹配 glob 模式的全部 key。
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Del 删除给定 key，返回实际删除的数量。
	Del(ctx context.Context, keys ...string) (int64, error)
}
