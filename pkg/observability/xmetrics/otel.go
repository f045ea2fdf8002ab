package xmetrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// 指标名与标签。
const (
	MetricCalls        = "xcrm.calls"
	MetricCallDuration = "xcrm.call.duration"

	LabelComponent = "component"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelOutcome   = "outcome"

	statusOK    = "ok"
	statusError = "error"
)

const defaultScope = "github.com/omeyang/xcrm"

// ErrInstrument 创建 OTel 指标失败。
var ErrInstrument = errors.New("xmetrics: create instrument failed")

type otelOptions struct {
	scope  string
	tracer trace.TracerProvider
	meter  metric.MeterProvider
}

// Option 配置 OTel Observer。
type Option func(*otelOptions)

// WithInstrumentationName 设置 instrumentation scope，空字符串忽略。
func WithInstrumentationName(name string) Option {
	return func(o *otelOptions) {
		if name != "" {
			o.scope = name
		}
	}
}

// WithTracerProvider 设置 TracerProvider，nil 忽略。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *otelOptions) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithMeterProvider 设置 MeterProvider，nil 忽略。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *otelOptions) {
		if mp != nil {
			o.meter = mp
		}
	}
}

// NewOTelObserver 创建 OpenTelemetry Observer，默认使用 otel 全局 Provider。
//
// 每次调用产生一个 span，并记录：
//   - xcrm.calls：按 component/operation/status/outcome 计数
//   - xcrm.call.duration：耗时直方图（毫秒）
func NewOTelObserver(opts ...Option) (Observer, error) {
	o := otelOptions{
		scope:  defaultScope,
		tracer: otel.GetTracerProvider(),
		meter:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meter.Meter(o.scope)
	calls, err := meter.Int64Counter(MetricCalls,
		metric.WithDescription("CRM client, cache and webhook calls"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInstrument, MetricCalls, err)
	}
	duration, err := meter.Float64Histogram(MetricCallDuration,
		metric.WithDescription("call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInstrument, MetricCallDuration, err)
	}

	return &otelObserver{
		tracer:   o.tracer.Tracer(o.scope),
		calls:    calls,
		duration: duration,
	}, nil
}

type otelObserver struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

func (o *otelObserver) Start(ctx context.Context, opts SpanOptions) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, opts.Component+"."+opts.Operation,
		trace.WithSpanKind(spanKind(opts.Kind)),
		trace.WithAttributes(toOTel(opts.Attrs)...))
	return ctx, &otelSpan{
		observer:  o,
		span:      span,
		ctx:       ctx,
		component: opts.Component,
		operation: opts.Operation,
		start:     time.Now(),
	}
}

type otelSpan struct {
	observer  *otelObserver
	span      trace.Span
	ctx       context.Context
	component string
	operation string
	start     time.Time
	once      sync.Once
}

// End 只生效一次。
func (s *otelSpan) End(result Result) {
	s.once.Do(func() {
		elapsed := time.Since(s.start)
		status := statusOK
		if result.Err != nil {
			status = statusError
			s.span.RecordError(result.Err)
			s.span.SetStatus(codes.Error, result.Err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
		if result.Outcome != "" {
			s.span.SetAttributes(attribute.String(LabelOutcome, result.Outcome))
		}
		s.span.SetAttributes(toOTel(result.Attrs)...)
		s.span.End()

		labels := []attribute.KeyValue{
			attribute.String(LabelComponent, s.component),
			attribute.String(LabelOperation, s.operation),
			attribute.String(LabelStatus, status),
		}
		if result.Outcome != "" {
			labels = append(labels, attribute.String(LabelOutcome, result.Outcome))
		}
		set := metric.WithAttributes(labels...)

		// 调用方 ctx 可能已取消，指标仍需落地。
		ctx := context.WithoutCancel(s.ctx)
		s.observer.calls.Add(ctx, 1, set)
		s.observer.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), set)
	})
}

func spanKind(kind Kind) trace.SpanKind {
	switch kind {
	case KindServer:
		return trace.SpanKindServer
	case KindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func toOTel(attrs []Attr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case nil:
		case string:
			out = append(out, attribute.String(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case time.Duration:
			out = append(out, attribute.Int64(a.Key, v.Milliseconds()))
		default:
			out = append(out, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return out
}
