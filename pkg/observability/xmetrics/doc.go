// Package xmetrics 是 xforce、xcache 与 HTTP 服务共用的观测接口。
//
// 组件只依赖 Observer/Span，默认 NoopObserver；守护进程注入 OTel 实现：
//
//	obs, _ := xmetrics.NewOTelObserver()
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xforce",
//		Operation: "query",
//		Kind:      xmetrics.KindClient,
//	})
//	defer func() { span.End(xmetrics.Result{Err: err}) }()
//
// Result.Outcome 进入指标标签（例如缓存 hit/miss），用于算命中率；
// Attrs 只进入 trace。
package xmetrics
