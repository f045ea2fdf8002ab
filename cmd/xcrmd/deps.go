package main

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xcrm/pkg/business/xcontent"
	"github.com/omeyang/xcrm/pkg/business/xforce"
	"github.com/omeyang/xcrm/pkg/observability/xmetrics"
	"github.com/omeyang/xcrm/pkg/resilience/xlimit"
	"github.com/omeyang/xcrm/pkg/storage/xcache"
)

// deps 是按配置装配好的组件。
type deps struct {
	client  *xforce.Client
	redis   redis.UniversalClient
	cache   *xcache.Aside
	content *xcontent.Service
	logger  *slog.Logger
}

func newDeps(s *Settings, logger *slog.Logger) (_ *deps, err error) {
	d := &deps{logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	observer, err := xmetrics.NewOTelObserver(xmetrics.WithInstrumentationName("github.com/omeyang/xcrm"))
	if err != nil {
		return nil, err
	}

	if s.Redis.URL != "" {
		opt, err := redis.ParseURL(s.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("xcrmd: parse REDIS_URL: %w", err)
		}
		d.redis = redis.NewClient(opt)
	}

	clientOpts := []xforce.Option{
		xforce.WithLogger(logger),
		xforce.WithObserver(observer),
	}
	if s.Limit.PerSecond > 0 {
		limiter, err := xlimit.New(d.redis,
			xlimit.WithRule(xlimit.PerSecond(s.Limit.PerSecond)),
			xlimit.WithKey(s.Limit.Key),
			xlimit.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, xforce.WithLimiter(limiter))
	}
	if s.Breaker.Failures > 0 {
		clientOpts = append(clientOpts, xforce.WithCircuitBreaker(s.Breaker.Failures, s.Breaker.Timeout))
	}

	d.client, err = xforce.NewClient(&s.SF, clientOpts...)
	if err != nil {
		return nil, err
	}

	store, err := d.newStore(s.Cache)
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(s.Cache.Codec)
	if err != nil {
		return nil, err
	}
	d.cache = xcache.New(store,
		xcache.WithCodec(codec),
		xcache.WithKeyPrefix(s.Cache.KeyPrefix),
		xcache.WithLogger(logger),
		xcache.WithObserver(observer))

	d.content, err = xcontent.NewService(d.client, d.cache, xcontent.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	logger.Info("xcrmd: components ready",
		slog.Bool("cache", d.cache.Enabled()),
		slog.Bool("redis", d.redis != nil),
		slog.Int("rate_limit_per_second", s.Limit.PerSecond),
		slog.Any("breaker_failures", s.Breaker.Failures))
	return d, nil
}

// newStore 返回 nil 表示不启用缓存。
func (d *deps) newStore(c CacheSettings) (xcache.Store, error) {
	backend := c.Backend
	if backend == "" || backend == cacheAuto {
		backend = cacheNone
		if d.redis != nil {
			backend = cacheRedis
		}
	}
	switch backend {
	case cacheRedis:
		if d.redis == nil {
			return nil, fmt.Errorf("xcrmd: cache backend %q requires REDIS_URL", backend)
		}
		return xcache.NewRedisStore(d.redis)
	case cacheMemory:
		size := c.MemorySize
		if size <= 0 {
			size = xcache.DefaultMemorySize
		}
		return xcache.NewMemoryStore(size)
	case cacheNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("xcrmd: unknown cache backend %q", c.Backend)
	}
}

func newCodec(name string) (xcache.Codec, error) {
	switch name {
	case "", "json":
		return xcache.JSONCodec{}, nil
	case "cbor":
		return xcache.NewCBORCodec()
	default:
		return nil, fmt.Errorf("xcrmd: unknown cache codec %q", name)
	}
}

// Close 关闭客户端与 Redis 连接。
func (d *deps) Close() error {
	var merr *multierror.Error
	if d.client != nil {
		merr = multierror.Append(merr, d.client.Close())
	}
	if d.redis != nil {
		merr = multierror.Append(merr, d.redis.Close())
	}
	return merr.ErrorOrNil()
}
