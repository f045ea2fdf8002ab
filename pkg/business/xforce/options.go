package xforce

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

// Limiter 在每次记录 API 调用前等待配额。
type Limiter interface {
	Wait(ctx context.Context) error
}

// Options Client 选项。
type Options struct {
	// HTTPClient 自定义 HTTP 客户端，为空时按 Config.Timeout 创建。
	HTTPClient *http.Client

	// Logger 日志记录器，默认 slog.Default()。
	Logger *slog.Logger

	// Observer 观测器，默认 NoopObserver。
	Observer xmetrics.Observer

	// Limiter 限流器，为空时不限流。
	Limiter Limiter

	// BreakerFailures 连续失败多少次后熔断，0 表示不启用熔断器。
	BreakerFailures uint32

	// BreakerTimeout 熔断打开后多久进入半开状态。
	BreakerTimeout time.Duration

	// RetryOn401 收到 401 时强制刷新并重试一次，默认开启。
	RetryOn401 bool

	// ExchangeAttempts Token 交换的最大尝试次数。
	ExchangeAttempts uint

	// Clock 时钟，测试中注入。
	Clock func() time.Time
}

// Option 配置 Client 的函数。
type Option func(*Options)

// DefaultBreakerTimeout 熔断打开后的冷却时长。
const DefaultBreakerTimeout = 30 * time.Second

func defaultOptions() *Options {
	return &Options{
		Logger:           slog.Default(),
		Observer:         xmetrics.NoopObserver{},
		BreakerTimeout:   DefaultBreakerTimeout,
		RetryOn401:       true,
		ExchangeAttempts: DefaultExchangeAttempts,
		Clock:            time.Now,
	}
}

// WithHTTPClient 设置 HTTP 客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		if client != nil {
			o.HTTPClient = client
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithObserver 设置观测器。
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *Options) {
		if observer != nil {
			o.Observer = observer
		}
	}
}

// WithLimiter 设置限流器。
func WithLimiter(limiter Limiter) Option {
	return func(o *Options) {
		o.Limiter = limiter
	}
}

// WithCircuitBreaker 启用熔断器：连续 failures 次网络错误或 5xx 后打开，timeout 后半开。
func WithCircuitBreaker(failures uint32, timeout time.Duration) Option {
	return func(o *Options) {
		o.BreakerFailures = failures
		if timeout > 0 {
			o.BreakerTimeout = timeout
		}
	}
}

// WithRetryOn401 设置收到 401 时是否强制刷新并重试一次。
func WithRetryOn401(enabled bool) Option {
	return func(o *Options) {
		o.RetryOn401 = enabled
	}
}

// WithExchangeAttempts 设置 Token 交换的最大尝试次数。
func WithExchangeAttempts(n uint) Option {
	return func(o *Options) {
		if n > 0 {
			o.ExchangeAttempts = n
		}
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}
