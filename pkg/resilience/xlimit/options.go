package xlimit

import (
	"log/slog"
	"time"
)

// FallbackStrategy Redis 不可用时的降级策略。
type FallbackStrategy string

const (
	FallbackLocal FallbackStrategy = "local"
	FallbackOpen  FallbackStrategy = "fail-open"
	FallbackClose FallbackStrategy = "fail-close"
)

// DefaultKey 默认限流 key。
const DefaultKey = "xlimit:crm-api"

// Rule 描述 Period 内 Rate 次的配额，Burst 为允许的突发量。
type Rule struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// PerSecond 返回每秒 n 次、突发 n 次的规则。
func PerSecond(n int) Rule {
	return Rule{Rate: n, Burst: n, Period: time.Second}
}

// PerMinute 返回每分钟 n 次、突发 n 次的规则。
func PerMinute(n int) Rule {
	return Rule{Rate: n, Burst: n, Period: time.Minute}
}

func (r Rule) validate() error {
	if r.Rate <= 0 || r.Burst <= 0 || r.Period <= 0 {
		return ErrInvalidRule
	}
	return nil
}

type options struct {
	key      string
	rule     Rule
	fallback FallbackStrategy
	logger   *slog.Logger
}

func defaultOptions() *options {
	return &options{
		key:      DefaultKey,
		rule:     PerSecond(10),
		fallback: FallbackLocal,
		logger:   slog.Default(),
	}
}

// Option 配置 Limiter。
type Option func(*options)

// WithKey 设置 Redis 中的限流 key。共享同一 key 的进程共享配额。
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

// WithRule 设置限流规则。
func WithRule(rule Rule) Option {
	return func(o *options) {
		o.rule = rule
	}
}

// WithFallback 设置降级策略，空字符串使用 FallbackLocal。
func WithFallback(strategy FallbackStrategy) Option {
	return func(o *options) {
		if strategy != "" {
			o.fallback = strategy
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
