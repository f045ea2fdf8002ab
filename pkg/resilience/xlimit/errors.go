package xlimit

import "errors"

var (
	// ErrRateLimited 表示请求被限流。
	ErrRateLimited = errors.New("xlimit: rate limited")

	// ErrRedisUnavailable 表示 Redis 不可用且降级策略为 FallbackClose。
	ErrRedisUnavailable = errors.New("xlimit: redis unavailable")

	// ErrInvalidRule 表示限流规则无效。
	ErrInvalidRule = errors.New("xlimit: invalid rule")
)
