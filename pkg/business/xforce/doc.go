// Package xforce 是 CRM 记录 API 的认证客户端。
//
// # 组成
//
//   - Signer：用服务身份和 RSA 私钥签发 JWT bearer 断言（RS256，有效期 300 秒）
//   - TokenManager：持有当前 Session，负责断言换取 access token 与刷新协调
//   - Client：查询（SOQL）、分页查询、全文检索（SOSL）以及 sObject 增删改查
//
// # Token 生命周期
//
// Session 仅在 now - IssuedAt < Lifetime - RefreshBuffer 时有效，过期的 Token
// 不会被交给任何请求。刷新通过 singleflight 合并：同一时刻至多一个交换在进行，
// 其余调用方等待其结果，等待上限为 Config.RefreshWaitTimeout，超时返回
// ErrRefreshTimeout。交换运行在脱离首个调用方取消信号的 context 上，
// 一个调用方取消不会让其他等待者失败。
//
// 交换遇到网络错误或 5xx 时重试（默认 2 次，每次重新签发断言）；
// 4xx（invalid_grant 等）返回 *AuthError，不重试，Hint 给出排查方向。
//
// # 401 处理
//
// 记录 API 返回 401 时，Client 强制刷新一次 Token 后重试一次（WithRetryOn401(false) 关闭）；
// 再次 401 返回 *AuthError。每次重试都会输出 WARN 日志，持续出现说明信任关系配置有误。
//
// # 错误
//
//   - *ConfigError（errors.Is ErrConfiguration）：配置缺失或私钥无法解析，构造期返回
//   - *AuthError（errors.Is ErrAuthentication）：Token 交换被拒绝
//   - *APIError：记录 API 非 2xx，errors.Is 可匹配 ErrNotFound/ErrUnauthorized/ErrForbidden/ErrServerError
//
// # 查询文本
//
// 调用方的值只能经 QuoteSOQL/EscapeSOQL/EscapeSOSL 拼入查询文本。
//
// # 并发
//
// Client 的所有方法并发安全。进程内应只构造一个 Client 并通过依赖注入传递。
package xforce
