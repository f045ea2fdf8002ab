package xcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
)

// 观测组件名与操作名。
const (
	MetricsComponent    = "xcache"
	MetricsOpGetCached  = "get_cached"
	MetricsOpInvalidate = "invalidate"
	MetricsAttrKey      = "xcache.key"
	MetricsAttrPattern  = "xcache.pattern"
	MetricsAttrDeleted  = "xcache.deleted"
)

// Aside 是 Cache-Aside 缓存层。store 为 nil 时处于禁用状态，所有读取直接回源。
type Aside struct {
	store       Store
	codec       Codec
	prefix      string
	loadTimeout time.Duration
	logger      *slog.Logger
	observer    xmetrics.Observer
	group       singleflight.Group

	// generation 每次失效前递增；回源期间发生过失效的结果不进入缓存。
	generation atomic.Uint64
}

// Option 配置 Aside。
type Option func(*Aside)

// WithCodec 设置编解码器，默认 JSONCodec。
func WithCodec(codec Codec) Option {
	return func(a *Aside) {
		if codec != nil {
			a.codec = codec
		}
	}
}

// WithKeyPrefix 为所有 key 加前缀，多个应用共用一个 Redis 时使用。
func WithKeyPrefix(prefix string) Option {
	return func(a *Aside) {
		a.prefix = prefix
	}
}

// WithLoadTimeout 设置合并回源的独立超时。0 禁用超时，负数使用默认 30 秒。
func WithLoadTimeout(timeout time.Duration) Option {
	return func(a *Aside) {
		a.loadTimeout = timeout
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aside) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver 设置观测器。
func WithObserver(observer xmetrics.Observer) Option {
	return func(a *Aside) {
		if observer != nil {
			a.observer = observer
		}
	}
}

// New 创建 Aside。store 为 nil 表示不启用缓存。
func New(store Store, opts ...Option) *Aside {
	a := &Aside{
		store:       store,
		codec:       JSONCodec{},
		loadTimeout: defaultOperationTimeout,
		logger:      slog.Default(),
		observer:    xmetrics.NoopObserver{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled 返回缓存是否启用。
func (a *Aside) Enabled() bool {
	return a != nil && a.store != nil
}

// GetCached 读穿缓存：命中则解码返回；未命中则回源、写入缓存（ttl 过期）并返回。
//
// 存储错误只记录日志，回源错误原样返回且不缓存。
// 同一 key 的并发未命中在进程内合并为一次回源。
func GetCached[T any](ctx context.Context, a *Aside, key string, fetch func(context.Context) (T, error), ttl time.Duration) (value T, err error) {
	if fetch == nil {
		return value, ErrNilLoader
	}
	if !a.Enabled() {
		return fetch(ctx)
	}
	if key == "" {
		return value, ErrEmptyKey
	}
	full := a.prefix + key

	result := "miss"
	ctx, span := xmetrics.Start(ctx, a.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpGetCached,
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.String(MetricsAttrKey, key)},
	})
	defer func() {
		span.End(xmetrics.Result{Err: err, Outcome: result})
	}()

	if v, ok := lookup[T](ctx, a, full); ok {
		result = "hit"
		return v, nil
	}

	// 失效之后到达的调用方不加入失效之前开始的回源
	gen := a.generation.Load()
	flight := full + "#" + strconv.FormatUint(gen, 10)
	ch := a.group.DoChan(flight, func() (val any, loadErr error) {
		defer func() {
			if r := recover(); r != nil {
				loadErr = fmt.Errorf("%w: %v", ErrLoadPanic, r)
			}
		}()
		loadCtx, cancel := contextWithIndependentTimeout(ctx, a.loadTimeout)
		defer cancel()

		v, loadErr := fetch(loadCtx)
		if loadErr != nil {
			return nil, loadErr
		}
		a.putUnlessInvalidated(loadCtx, full, v, ttl, gen)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return value, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			// 同一 key 被不同类型的调用方共用，不共享结果
			result = "type_mismatch"
			return fetch(ctx)
		}
		return v, nil
	case <-ctx.Done():
		return value, ctx.Err()
	}
}

func lookup[T any](ctx context.Context, a *Aside, key string) (T, bool) {
	var v T
	data, err := a.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			a.logger.Warn("xcache: get failed, falling back to fetch",
				slog.String("key", key), slog.Any("error", err))
		}
		return v, false
	}
	if err := a.codec.Unmarshal(data, &v); err != nil {
		a.logger.Warn("xcache: decode failed, falling back to fetch",
			slog.String("key", key), slog.String("codec", a.codec.Name()), slog.Any("error", err))
		var zero T
		return zero, false
	}
	return v, true
}

// putUnlessInvalidated 回源开始后若发生过失效则不写回；写回与失效交错时撤销写入。
func (a *Aside) putUnlessInvalidated(ctx context.Context, key string, v any, ttl time.Duration, gen uint64) {
	if a.generation.Load() != gen {
		a.logger.Debug("xcache: invalidated during load, value not cached", slog.String("key", key))
		return
	}
	a.put(ctx, key, v, ttl)
	if a.generation.Load() != gen {
		if _, err := a.store.Del(ctx, key); err != nil {
			a.logger.Warn("xcache: failed to drop value loaded before invalidation",
				slog.String("key", key), slog.Any("error", err))
		}
	}
}

func (a *Aside) put(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := a.codec.Marshal(v)
	if err != nil {
		a.logger.Warn("xcache: encode failed, value not cached",
			slog.String("key", key), slog.String("codec", a.codec.Name()), slog.Any("error", err))
		return
	}
	if err := a.store.SetWithExpiry(ctx, key, ttl, data); err != nil {
		a.logger.Warn("xcache: set failed, value not cached",
			slog.String("key", key), slog.Any("error", err))
	}
}

// Invalidate 删除匹配 glob 模式的全部 key，返回删除数量。未启用时为空操作。
func (a *Aside) Invalidate(ctx context.Context, pattern string) (deleted int64, err error) {
	if !a.Enabled() {
		return 0, nil
	}
	ctx, span := xmetrics.Start(ctx, a.observer, xmetrics.SpanOptions{
		Component: MetricsComponent,
		Operation: MetricsOpInvalidate,
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.String(MetricsAttrPattern, pattern)},
	})
	defer func() {
		span.End(xmetrics.Result{Err: err, Attrs: []xmetrics.Attr{xmetrics.Int64(MetricsAttrDeleted, deleted)}})
	}()

	a.generation.Add(1)
	keys, err := a.store.Keys(ctx, a.prefix+pattern)
	if err != nil {
		a.logger.Warn("xcache: invalidate failed to list keys",
			slog.String("pattern", pattern), slog.Any("error", err))
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err = a.store.Del(ctx, keys...)
	if err != nil {
		a.logger.Warn("xcache: invalidate failed to delete keys",
			slog.String("pattern", pattern), slog.Int("keys", len(keys)), slog.Any("error", err))
		return deleted, err
	}
	a.logger.Debug("xcache: invalidated",
		slog.String("pattern", pattern), slog.Int64("deleted", deleted))
	return deleted, nil
}

// InvalidateKey 删除单个 key。未启用时为空操作。
func (a *Aside) InvalidateKey(ctx context.Context, key string) error {
	if !a.Enabled() {
		return nil
	}
	if key == "" {
		return ErrEmptyKey
	}
	a.generation.Add(1)
	if _, err := a.store.Del(ctx, a.prefix+key); err != nil {
		a.logger.Warn("xcache: invalidate key failed",
			slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

// Stats 是缓存 key 空间统计。
type Stats struct {
	Enabled      bool           `json:"enabled"`
	TotalKeys    int            `json:"totalKeys"`
	KeysByPrefix map[string]int `json:"keysByPrefix"`
}

// Stats 统计 key 数量（按命名空间分组）。不返回错误：存储失败时返回 nil。
func (a *Aside) Stats(ctx context.Context) *Stats {
	if !a.Enabled() {
		return &Stats{Enabled: false, KeysByPrefix: map[string]int{}}
	}
	keys, err := a.store.Keys(ctx, a.prefix+"*")
	if err != nil {
		a.logger.Warn("xcache: stats failed", slog.Any("error", err))
		return nil
	}
	st := &Stats{Enabled: true, TotalKeys: len(keys), KeysByPrefix: make(map[string]int)}
	for _, k := range keys {
		st.KeysByPrefix[namespaceOf(strings.TrimPrefix(k, a.prefix))]++
	}
	return st
}
