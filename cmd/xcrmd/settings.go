package main

import (
	"time"

	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/config/xconf"
	"github.com/omeyang/xcrm/pkg/observability/xlog"
)

// 缓存后端。
const (
	cacheAuto   = "auto"
	cacheRedis  = "redis"
	cacheMemory = "memory"
	cacheNone   = "none"
)

// Settings 是 xcrmd 的完整配置。
type Settings struct {
	SF      xforce.Config   `koanf:"sf"`
	Redis   RedisSettings   `koanf:"redis"`
	Cache   CacheSettings   `koanf:"cache"`
	Server  ServerSettings  `koanf:"server"`
	Log     xlog.Config     `koanf:"log"`
	Limit   LimitSettings   `koanf:"limit"`
	Breaker BreakerSettings `koanf:"breaker"`

	// Overrides 实际生效的环境变量名。
	Overrides []string `koanf:"-"`
}

type RedisSettings struct {
	URL string `koanf:"url"`
}

type CacheSettings struct {
	// Backend 取值 auto/redis/memory/none；auto 在配置了 Redis 时使用 Redis，否则不缓存。
	Backend    string `koanf:"backend"`
	MemorySize int    `koanf:"memory_size"`
	KeyPrefix  string `koanf:"key_prefix"`
	Codec      string `koanf:"codec"`
}

type ServerSettings struct {
	Addr             string        `koanf:"addr"`
	RevalidateSecret string        `koanf:"revalidate_secret"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

type LimitSettings struct {
	// PerSecond 为 0 时不限流。
	PerSecond int    `koanf:"per_second"`
	Key       string `koanf:"key"`
}

type BreakerSettings struct {
	// Failures 为 0 时不启用熔断。
	Failures uint32        `koanf:"failures"`
	Timeout  time.Duration `koanf:"timeout"`
}

// envBindings 环境变量到配置键的映射。
var envBindings = map[string]string{
	xforce.EnvClientID:      "sf.client_id",
	xforce.EnvUsername:      "sf.username",
	xforce.EnvPrivateKey:    "sf.private_key",
	xforce.EnvInstanceURL:   "sf.instance_url",
	xforce.EnvLoginURL:      "sf.login_url",
	xforce.EnvAPIVersion:    "sf.api_version",
	"REDIS_URL":             "redis.url",
	"SERVER_ADDR":           "server.addr",
	"REVALIDATE_SECRET":     "server.revalidate_secret",
	"LOG_FILE":              "log.file",
	"LOG_LEVEL":             "log.level",
	"RATE_LIMIT_PER_SECOND": "limit.per_second",
	"BREAKER_FAILURES":      "breaker.failures",
}

func defaultSettings() Settings {
	return Settings{
		Cache:  CacheSettings{Backend: cacheAuto, Codec: "json"},
		Server: ServerSettings{Addr: ":8080"},
		Log:    xlog.Config{Level: "info", Format: xlog.FormatJSON},
	}
}

// loadSettings 读取配置文件（可为空）并叠加环境变量。
func loadSettings(path string) (*Settings, error) {
	cfg, err := xconf.Load(path, xconf.WithEnv(envBindings))
	if err != nil {
		return nil, err
	}
	s := defaultSettings()
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	s.Overrides = cfg.Overrides()
	return &s, nil
}
