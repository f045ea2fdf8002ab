// Package xconf 基于 koanf 加载配置：可选的 YAML/JSON 文件，叠加环境变量。
//
// 环境变量只在 WithEnv 绑定过时生效，且优先于文件；值为空视为未设置。
// Overrides 列出实际生效的变量名，便于启动日志说明配置来源。
//
//	cfg, err := xconf.Load("xcrmd.yaml", xconf.WithEnv(map[string]string{
//	    "SF_CLIENT_ID": "sf.client_id",
//	    "REDIS_URL":    "redis.url",
//	}))
//	var s Settings
//	err = cfg.Decode(&s)
//
// Decode 允许弱类型转换，环境变量中的 "8080"、"true"、"30s" 可以直接落到
// int、bool、time.Duration 字段。Reload 整体替换内部快照，失败时保留旧值。
package xconf
