package xmetrics

import (
	"context"
	"time"
)

// Kind 跨度类型。
type Kind int

const (
	// KindInternal 进程内操作（缓存读写、失效）。
	KindInternal Kind = iota
	// KindServer 入站请求（健康检查、revalidate webhook）。
	KindServer
	// KindClient 出站调用（Token 交换、记录 API）。
	KindClient
)

// Attr 跨度属性，只进入 trace，不进入指标标签。
type Attr struct {
	Key   string
	Value any
}

func String(key, value string) Attr { return Attr{Key: key, Value: value} }
func Bool(key string, value bool) Attr { return Attr{Key: key, Value: value} }
func Int(key string, value int) Attr { return Attr{Key: key, Value: value} }
func Int64(key string, value int64) Attr { return Attr{Key: key, Value: value} }
func Duration(key string, value time.Duration) Attr { return Attr{Key: key, Value: value} }

// SpanOptions 描述一次调用。
type SpanOptions struct {
	Component string
	Operation string
	Kind      Kind
	Attrs     []Attr
}

// Result 调用结果。
//
// Outcome 是低基数的结果分类（如缓存的 hit/miss），会作为指标标签；
// 高基数的信息（key、记录数）放进 Attrs。
type Result struct {
	Err     error
	Outcome string
	Attrs   []Attr
}

// Span 进行中的一次调用。
type Span interface {
	End(result Result)
}

// Observer 创建 Span。
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 不做任何记录。
type NoopObserver struct{}

func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(Result) {}

// Start 经 observer 开始一次调用；observer 为 nil 或返回 nil 时退化为空实现。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if observer == nil {
		return ctx, noopSpan{}
	}
	spanCtx, span := observer.Start(ctx, opts)
	if spanCtx == nil {
		spanCtx = ctx
	}
	if span == nil {
		span = noopSpan{}
	}
	return spanCtx, span
}
