package xlimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// minRetryWait Redis 未给出 RetryAfter 时的最小等待。
const minRetryWait = 10 * time.Millisecond

// Limiter 分布式限流器。rdb 为 nil 时只使用进程内令牌桶。
type Limiter struct {
	redis    *redis_rate.Limiter
	key      string
	limit    redis_rate.Limit
	local    *rate.Limiter
	fallback FallbackStrategy
	logger   *slog.Logger
	degraded atomic.Bool
}

// New 创建 Limiter。
func New(rdb redis.UniversalClient, opts ...Option) (*Limiter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.rule.validate(); err != nil {
		return nil, fmt.Errorf("%w: rate=%d burst=%d period=%s", err, o.rule.Rate, o.rule.Burst, o.rule.Period)
	}

	l := &Limiter{
		key:      o.key,
		limit:    redis_rate.Limit{Rate: o.rule.Rate, Burst: o.rule.Burst, Period: o.rule.Period},
		local:    rate.NewLimiter(rate.Limit(float64(o.rule.Rate)/o.rule.Period.Seconds()), o.rule.Burst),
		fallback: o.fallback,
		logger:   o.logger,
	}
	if rdb != nil {
		l.redis = redis_rate.NewLimiter(rdb)
	}
	return l, nil
}

// Distributed 返回是否使用 Redis 后端。
func (l *Limiter) Distributed() bool {
	return l.redis != nil
}

// Allow 尝试获取一个配额，不等待。
func (l *Limiter) Allow(ctx context.Context) (allowed bool, retryAfter time.Duration, err error) {
	if l.redis == nil {
		return l.allowLocal()
	}
	res, err := l.redis.Allow(ctx, l.key, l.limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, 0, ctxErr
		}
		l.markDegraded(err)
		switch l.fallback {
		case FallbackOpen:
			return true, 0, nil
		case FallbackClose:
			return false, 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		default:
			return l.allowLocal()
		}
	}
	l.markRecovered()
	if res.Allowed > 0 {
		return true, 0, nil
	}
	return false, max(res.RetryAfter, minRetryWait), nil
}

func (l *Limiter) allowLocal() (bool, time.Duration, error) {
	r := l.local.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}

// Wait 阻塞直到获得配额。ctx 结束时返回 ctx.Err()。
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		allowed, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return fmt.Errorf("%w: retry after %s exceeds deadline", ErrRateLimited, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset 清空 Redis 中的计数。
func (l *Limiter) Reset(ctx context.Context) error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Reset(ctx, l.key)
}

func (l *Limiter) markDegraded(err error) {
	if l.degraded.CompareAndSwap(false, true) {
		l.logger.Warn("xlimit: redis unavailable, falling back",
			slog.String("strategy", string(l.fallback)),
			slog.String("key", l.key),
			slog.Any("error", err))
	}
}

func (l *Limiter) markRecovered() {
	if l.degraded.CompareAndSwap(true, false) {
		l.logger.Info("xlimit: redis recovered", slog.String("key", l.key))
	}
}
