// Package server 暴露 xcrmd 的 HTTP 接口：健康检查与缓存失效 webhook。
//
//	GET  /api/health      {status, salesforce, cache}，无副作用
//	POST /api/revalidate  X-Revalidate-Secret 校验后按实体失效缓存
package server
