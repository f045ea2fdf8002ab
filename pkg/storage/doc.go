// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xcache: 旁路缓存，支持 Redis 与进程内 LRU 两种后端
package storage
