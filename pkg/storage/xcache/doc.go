// Package xcache 提供 Cache-Aside（读穿）缓存层。
//
// # 核心组件
//
//   - Store：最小存储契约（Get / SetWithExpiry / Keys / Del）
//   - RedisStore：基于 go-redis UniversalClient，Keys 使用 SCAN 游标遍历
//   - MemoryStore：基于 golang-lru，带逐条过期，用于单进程部署与测试
//   - Aside：GetCached 读穿、按模式失效、统计
//
// # 语义
//
// 缓存只是优化，不是正确性依赖：
//   - 未配置 Store 时 GetCached 直接回源
//   - 任何存储错误（读、写、编解码）记录 WARN 日志后回源，不返回给调用方
//   - 回源错误原样返回，且不写入缓存
//   - 同一进程内同一 key 的并发未命中通过 singleflight 合并为一次回源
//
// # Key 约定
//
// Key 以实体命名空间开头，例如 "articles:list:3f2a..."，失效时使用
// Pattern("articles") 即 "articles:*"。QueryKey 使用 xxhash 把查询文本压缩为定长后缀。
//
// # Context 处理
//
// 合并后的回源与写缓存使用脱离调用方取消链的独立 context（默认超时 30 秒，
// WithLoadTimeout 配置），首个调用方取消不影响其他等待者。
package xcache
