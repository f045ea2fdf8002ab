// Package xlog 构建进程级 slog.Logger：JSON 或文本格式，输出到 stderr 或
// 按大小轮转的日志文件（lumberjack）。
//
// 库包不依赖本包，它们通过 WithLogger 接收 *slog.Logger；
// 本包只在二进制入口处调用一次。
package xlog
