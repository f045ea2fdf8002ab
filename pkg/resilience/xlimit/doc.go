// Package xlimit 为出站调用提供限流，限制对远端 API 的冲击范围。
//
// Limiter 以 Redis 为后端（go-redis/redis_rate，GCRA 算法），多个进程共享同一个
// key 时配额全局生效。Redis 不可用时按 FallbackStrategy 降级：
//   - FallbackLocal（默认）：进程内令牌桶，配额不再全局生效
//   - FallbackOpen：直接放行
//   - FallbackClose：返回 ErrRedisUnavailable
//
// Wait 阻塞到获得配额或 ctx 结束，满足 xforce.Limiter 接口。
package xlimit
